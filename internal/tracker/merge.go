package tracker

import "strings"

// MergeStats reports what a merge contributed to the target bundle.
type MergeStats struct {
	ContactsAdded               int
	JurisdictionsAdded          int
	PropertiesAdded             int
	PropertiesDuplicatesSkipped int
	PermitsAdded                int
	DocumentTemplatesAdded      int
	ActiveTemplateMappingsAdded int
	Changed                     bool
}

// PropertyMergeTokens returns the content-identity tokens for a property:
// the normalized parcel id and the casefolded, whitespace-collapsed display
// address. A property matching an existing one on either token is the same
// real-world property.
func PropertyMergeTokens(property PropertyRecord) []string {
	tokens := []string{}
	parcel := strings.TrimSpace(property.ParcelIDNorm)
	if parcel == "" {
		parcel = property.ParcelID
	}
	if token := NormalizeParcelID(parcel); token != "" {
		tokens = append(tokens, "parcel:"+token)
	}
	address := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(property.DisplayAddress))), " ")
	if address != "" {
		tokens = append(tokens, "address:"+address)
	}
	return tokens
}

// MergeBundles folds entries present in source but absent from target into a
// copy of target. Presence is judged by entity-specific dedup keys rather
// than object identity: ids for contacts, jurisdictions, templates and
// permits; parcel/address tokens for properties. Permits arriving with a
// deduplicated property are rewritten to point at the surviving property.
// Neither input is mutated.
func MergeBundles(target, source *Bundle) (*Bundle, MergeStats) {
	merged := target.Clone()
	incoming := source.Clone()
	stats := MergeStats{}

	contactIDs := map[string]bool{}
	for _, record := range merged.Contacts {
		if key := idKey(record.ContactID); key != "" {
			contactIDs[key] = true
		}
	}
	for _, record := range incoming.Contacts {
		key := idKey(record.ContactID)
		if key != "" && contactIDs[key] {
			continue
		}
		merged.Contacts = append(merged.Contacts, record)
		if key != "" {
			contactIDs[key] = true
		}
		stats.ContactsAdded++
	}

	jurisdictionIDs := map[string]bool{}
	for _, record := range merged.Jurisdictions {
		if key := idKey(record.JurisdictionID); key != "" {
			jurisdictionIDs[key] = true
		}
	}
	for _, record := range incoming.Jurisdictions {
		key := idKey(record.JurisdictionID)
		if key != "" && jurisdictionIDs[key] {
			continue
		}
		merged.Jurisdictions = append(merged.Jurisdictions, record)
		if key != "" {
			jurisdictionIDs[key] = true
		}
		stats.JurisdictionsAdded++
	}

	propertyIDs := map[string]string{}
	propertyTokens := map[string]string{}
	propertyAliases := map[string]string{}
	for _, record := range merged.Properties {
		propertyID := strings.TrimSpace(record.PropertyID)
		if propertyID != "" {
			propertyIDs[idKey(propertyID)] = propertyID
			propertyAliases[propertyID] = propertyID
		}
		for _, token := range PropertyMergeTokens(record) {
			if propertyID != "" {
				if _, exists := propertyTokens[token]; !exists {
					propertyTokens[token] = propertyID
				}
			}
		}
	}
	for _, record := range incoming.Properties {
		incomingID := strings.TrimSpace(record.PropertyID)
		if incomingID != "" {
			if existing, exists := propertyIDs[idKey(incomingID)]; exists {
				propertyAliases[incomingID] = existing
				continue
			}
		}
		duplicateOf := ""
		for _, token := range PropertyMergeTokens(record) {
			if existing := propertyTokens[token]; existing != "" {
				duplicateOf = existing
				break
			}
		}
		if duplicateOf != "" {
			if incomingID != "" {
				propertyAliases[incomingID] = duplicateOf
			}
			stats.PropertiesDuplicatesSkipped++
			continue
		}
		merged.Properties = append(merged.Properties, record)
		if incomingID != "" {
			propertyIDs[idKey(incomingID)] = incomingID
			propertyAliases[incomingID] = incomingID
		}
		for _, token := range PropertyMergeTokens(record) {
			if incomingID != "" {
				if _, exists := propertyTokens[token]; !exists {
					propertyTokens[token] = incomingID
				}
			}
		}
		stats.PropertiesAdded++
	}

	permitIDs := map[string]bool{}
	for _, record := range merged.Permits {
		if key := idKey(record.PermitID); key != "" {
			permitIDs[key] = true
		}
	}
	for _, record := range incoming.Permits {
		key := idKey(record.PermitID)
		if key != "" && permitIDs[key] {
			continue
		}
		if alias := propertyAliases[strings.TrimSpace(record.PropertyID)]; alias != "" {
			record.PropertyID = alias
		}
		merged.Permits = append(merged.Permits, record)
		if key != "" {
			permitIDs[key] = true
		}
		stats.PermitsAdded++
	}

	templateIDs := map[string]bool{}
	for _, record := range merged.DocumentTemplates {
		if key := idKey(record.TemplateID); key != "" {
			templateIDs[key] = true
		}
	}
	for _, record := range incoming.DocumentTemplates {
		key := idKey(record.TemplateID)
		if key != "" && templateIDs[key] {
			continue
		}
		merged.DocumentTemplates = append(merged.DocumentTemplates, record)
		if key != "" {
			templateIDs[key] = true
		}
		stats.DocumentTemplatesAdded++
	}

	for permitType, templateID := range incoming.ActiveDocumentTemplateIDs {
		normalizedType := strings.TrimSpace(permitType)
		normalizedTemplateID := strings.TrimSpace(templateID)
		if normalizedType == "" || normalizedTemplateID == "" {
			continue
		}
		if _, exists := merged.ActiveDocumentTemplateIDs[normalizedType]; exists {
			continue
		}
		if !templateIDs[idKey(normalizedTemplateID)] {
			continue
		}
		merged.ActiveDocumentTemplateIDs[normalizedType] = normalizedTemplateID
		stats.ActiveTemplateMappingsAdded++
	}

	stats.Changed = stats.ContactsAdded > 0 ||
		stats.JurisdictionsAdded > 0 ||
		stats.PropertiesAdded > 0 ||
		stats.PermitsAdded > 0 ||
		stats.DocumentTemplatesAdded > 0 ||
		stats.ActiveTemplateMappingsAdded > 0
	return merged, stats
}

func idKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
