package tracker

// Built-in checklist slot lists, substituted whenever a template or permit
// has no usable slots for its permit type.

func DefaultTemplateSlots(permitType string) []TemplateSlot {
	slots := []TemplateSlot{}
	for _, row := range defaultSlotRows(permitType) {
		slots = append(slots, TemplateSlot{
			SlotID:   row.slotID,
			Label:    row.label,
			Required: true,
			FolderID: row.slotID,
		})
	}
	return slots
}

// DefaultDocumentSlots returns the permit-side form of the default list.
// Status starts as missing and the first cycle is active.
func DefaultDocumentSlots(permitType string) []PermitDocumentSlot {
	slots := []PermitDocumentSlot{}
	for _, row := range defaultSlotRows(permitType) {
		slots = append(slots, PermitDocumentSlot{
			SlotID:      row.slotID,
			Label:       row.label,
			Required:    true,
			Status:      SlotStatusMissing,
			FolderID:    row.slotID,
			ActiveCycle: 1,
		})
	}
	return slots
}

type defaultSlotRow struct {
	slotID string
	label  string
}

func defaultSlotRows(permitType string) []defaultSlotRow {
	switch NormalizePermitType(permitType) {
	case PermitTypeDemolition:
		return []defaultSlotRow{
			{"permit_application", "Permit Application"},
			{"site_plan", "Site Plan"},
			{"asbestos_survey", "Asbestos Survey"},
			{"utility_disconnects", "Utility Disconnects"},
		}
	case PermitTypeRemodeling:
		return []defaultSlotRow{
			{"plans", "Plans"},
			{"permit_application", "Permit Application"},
			{"scope_of_work", "Scope Of Work"},
			{"contractor_license", "Contractor License"},
		}
	default:
		return []defaultSlotRow{
			{"plans", "Plans"},
			{"site_plan", "Site Plan"},
			{"permit_application", "Permit Application"},
			{"contractor_license", "Contractor License"},
		}
	}
}
