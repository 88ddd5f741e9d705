// Package tracker holds the normalized permit-tracking data model: the
// entities persisted in a data bundle, the normalization rules that keep a
// bundle internally coherent, the document-structure reconciler and the
// derived-status calculators, and the deduplicating bundle merge.
//
// Everything in this package is pure data manipulation. Normalization and
// reconciliation mutate in place and report whether anything changed, so
// callers know when a persist is required; nothing here performs I/O.
package tracker

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a fresh opaque identifier: 32 hex characters, assigned once
// at creation and never reused.
func NewID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		var fallback [16]byte
		_, _ = rand.Read(fallback[:])
		return hex.EncodeToString(fallback[:])
	}
	return hex.EncodeToString(id[:])
}

// ContactMethod is one labelled way of reaching a contact.
type ContactMethod struct {
	Label   string   `json:"label"`
	Emails  []string `json:"emails"`
	Numbers []string `json:"numbers"`
	Note    string   `json:"note"`
}

// ContactRecord is a person or company. Emails and Numbers are derived: they
// always hold the deduplicated union over Methods, in first-seen order.
type ContactRecord struct {
	ContactID string          `json:"contact_id"`
	Name      string          `json:"name"`
	Roles     []string        `json:"roles"`
	Methods   []ContactMethod `json:"contact_methods"`
	Emails    []string        `json:"emails"`
	Numbers   []string        `json:"numbers"`
	Notes     string          `json:"notes"`
}

func (c *ContactRecord) Normalize() bool {
	changed := false
	setText(&c.ContactID, strings.TrimSpace(c.ContactID), &changed)
	setText(&c.Name, strings.TrimSpace(c.Name), &changed)
	setText(&c.Notes, strings.TrimSpace(c.Notes), &changed)
	setStrings(&c.Roles, DedupStrings(c.Roles), &changed)
	if c.Methods == nil {
		c.Methods = []ContactMethod{}
		changed = true
	}
	for i := range c.Methods {
		method := &c.Methods[i]
		setText(&method.Label, strings.TrimSpace(method.Label), &changed)
		setText(&method.Note, strings.TrimSpace(method.Note), &changed)
		setStrings(&method.Emails, DedupStrings(method.Emails), &changed)
		setStrings(&method.Numbers, DedupStrings(method.Numbers), &changed)
	}
	emails := []string{}
	numbers := []string{}
	for _, method := range c.Methods {
		emails = append(emails, method.Emails...)
		numbers = append(numbers, method.Numbers...)
	}
	setStrings(&c.Emails, DedupStrings(emails), &changed)
	setStrings(&c.Numbers, DedupStrings(numbers), &changed)
	return changed
}

// JurisdictionRecord is an issuing authority (a city or a county).
type JurisdictionRecord struct {
	JurisdictionID string   `json:"jurisdiction_id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	ParentCounty   string   `json:"parent_county"`
	PortalURLs     []string `json:"portal_urls"`
	ContactIDs     []string `json:"contact_ids"`
	Notes          string   `json:"notes"`
}

func (j *JurisdictionRecord) Normalize() bool {
	changed := false
	setText(&j.JurisdictionID, strings.TrimSpace(j.JurisdictionID), &changed)
	setText(&j.Name, strings.TrimSpace(j.Name), &changed)
	setText(&j.Type, NormalizeJurisdictionType(j.Type), &changed)
	setText(&j.ParentCounty, strings.TrimSpace(j.ParentCounty), &changed)
	setText(&j.Notes, strings.TrimSpace(j.Notes), &changed)
	setStrings(&j.PortalURLs, DedupStrings(j.PortalURLs), &changed)
	setStrings(&j.ContactIDs, DedupStrings(j.ContactIDs), &changed)
	return changed
}

// PropertyRecord is a parcel/address permits attach to. ParcelIDNorm is the
// derived dedup key: recomputed from ParcelID whenever it is absent.
type PropertyRecord struct {
	PropertyID     string   `json:"property_id"`
	DisplayAddress string   `json:"display_address"`
	ParcelID       string   `json:"parcel_id"`
	ParcelIDNorm   string   `json:"parcel_id_norm"`
	JurisdictionID string   `json:"jurisdiction_id"`
	ContactIDs     []string `json:"contact_ids"`
	Tags           []string `json:"tags"`
	Notes          string   `json:"notes"`
	ListColor      string   `json:"list_color"`
}

func (p *PropertyRecord) Normalize() bool {
	changed := false
	setText(&p.PropertyID, strings.TrimSpace(p.PropertyID), &changed)
	setText(&p.DisplayAddress, strings.TrimSpace(p.DisplayAddress), &changed)
	setText(&p.ParcelID, strings.TrimSpace(p.ParcelID), &changed)
	setText(&p.JurisdictionID, strings.TrimSpace(p.JurisdictionID), &changed)
	setText(&p.Notes, strings.TrimSpace(p.Notes), &changed)
	setText(&p.ListColor, strings.TrimSpace(p.ListColor), &changed)
	setStrings(&p.ContactIDs, DedupStrings(p.ContactIDs), &changed)
	setStrings(&p.Tags, DedupStrings(p.Tags), &changed)
	norm := strings.TrimSpace(p.ParcelIDNorm)
	if norm == "" {
		norm = NormalizeParcelID(p.ParcelID)
	}
	setText(&p.ParcelIDNorm, norm, &changed)
	return changed
}

// RecomputeParcelNorm forces ParcelIDNorm back to the derived value,
// discarding any explicitly supplied token.
func (p *PropertyRecord) RecomputeParcelNorm() bool {
	norm := NormalizeParcelID(p.ParcelID)
	if p.ParcelIDNorm == norm {
		return false
	}
	p.ParcelIDNorm = norm
	return true
}

// TemplateSlot is one checklist requirement inside a template.
type TemplateSlot struct {
	SlotID   string `json:"slot_id"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	FolderID string `json:"folder_id"`
}

// DocumentChecklistTemplate is a reusable per-permit-type checklist.
type DocumentChecklistTemplate struct {
	TemplateID string         `json:"template_id"`
	Name       string         `json:"name"`
	PermitType string         `json:"permit_type"`
	Slots      []TemplateSlot `json:"slots"`
}

func (t *DocumentChecklistTemplate) Normalize() bool {
	changed := false
	setText(&t.TemplateID, strings.TrimSpace(t.TemplateID), &changed)
	setText(&t.Name, strings.TrimSpace(t.Name), &changed)
	setText(&t.PermitType, NormalizePermitType(t.PermitType), &changed)
	normalized := NormalizeTemplateSlots(t.Slots, t.PermitType)
	if !equalTemplateSlots(t.Slots, normalized) {
		t.Slots = normalized
		changed = true
	}
	return changed
}

// NormalizeTemplateSlots normalizes slot ids, drops duplicates keeping the
// first occurrence, defaults labels and folder ids, and substitutes the
// built-in default list for the permit type when no usable slots remain.
func NormalizeTemplateSlots(slots []TemplateSlot, permitType string) []TemplateSlot {
	out := []TemplateSlot{}
	seen := map[string]bool{}
	for _, slot := range slots {
		slotID := NormalizeSlotID(slot.SlotID)
		if slotID == "" {
			slotID = NormalizeSlotID(slot.Label)
		}
		if slotID == "" || seen[slotID] {
			continue
		}
		seen[slotID] = true
		label := strings.TrimSpace(slot.Label)
		if label == "" {
			label = SlotLabelFromID(slotID)
		}
		folderID := NormalizeSlotID(slot.FolderID)
		if folderID == "" {
			folderID = slotID
		}
		out = append(out, TemplateSlot{
			SlotID:   slotID,
			Label:    label,
			Required: slot.Required,
			FolderID: folderID,
		})
	}
	if len(out) == 0 {
		return DefaultTemplateSlots(permitType)
	}
	return out
}

func equalTemplateSlots(a, b []TemplateSlot) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PermitParty ties a contact to a permit in a named role.
type PermitParty struct {
	ContactID string `json:"contact_id"`
	Role      string `json:"role"`
	Note      string `json:"note"`
}

// PermitEventRecord is one timeline entry on a permit.
type PermitEventRecord struct {
	EventID        string   `json:"event_id"`
	EventType      string   `json:"event_type"`
	EventDate      string   `json:"event_date"`
	Summary        string   `json:"summary"`
	Detail         string   `json:"detail"`
	ActorContactID string   `json:"actor_contact_id"`
	Attachments    []string `json:"attachments"`
}

// PermitDocumentFolder groups uploaded documents. The folder whose
// ParentFolderID is empty is the root ("General") folder; every other folder
// must resolve to it without cycles.
type PermitDocumentFolder struct {
	FolderID       string `json:"folder_id"`
	Name           string `json:"name"`
	ParentFolderID string `json:"parent_folder_id"`
}

// PermitDocumentSlot is a checklist requirement on a permit. Status is
// derived from the documents in the active cycle and never hand-set.
type PermitDocumentSlot struct {
	SlotID      string `json:"slot_id"`
	Label       string `json:"label"`
	Required    bool   `json:"required"`
	Status      string `json:"status"`
	FolderID    string `json:"folder_id"`
	ActiveCycle int    `json:"active_cycle"`
}

// PermitDocumentRecord is one uploaded file. RevisionIndex is unique and
// increasing within a (folder, cycle) group.
type PermitDocumentRecord struct {
	DocumentID    string `json:"document_id"`
	FolderID      string `json:"folder_id"`
	OriginalName  string `json:"original_name"`
	StoredName    string `json:"stored_name"`
	RelativePath  string `json:"relative_path"`
	SlotID        string `json:"slot_id"`
	CycleIndex    int    `json:"cycle_index"`
	RevisionIndex int    `json:"revision_index"`
	ReviewStatus  string `json:"review_status"`
	ByteSize      int64  `json:"byte_size"`
	SHA256        string `json:"sha256"`
	ImportedAt    string `json:"imported_at"`
}

// PermitRecord is one permit case: lifecycle dates, parties, the event
// timeline and the document checklist structure.
type PermitRecord struct {
	PermitID        string                 `json:"permit_id"`
	PropertyID      string                 `json:"property_id"`
	PermitType      string                 `json:"permit_type"`
	PermitNumber    string                 `json:"permit_number"`
	Status          string                 `json:"status"`
	NextActionText  string                 `json:"next_action_text"`
	NextActionDue   string                 `json:"next_action_due"`
	RequestDate     string                 `json:"request_date"`
	ApplicationDate string                 `json:"application_date"`
	IssuedDate      string                 `json:"issued_date"`
	FinalDate       string                 `json:"final_date"`
	CompletionDate  string                 `json:"completion_date"`
	Parties         []PermitParty          `json:"parties"`
	Events          []PermitEventRecord    `json:"events"`
	DocumentSlots   []PermitDocumentSlot   `json:"document_slots"`
	DocumentFolders []PermitDocumentFolder `json:"document_folders"`
	Documents       []PermitDocumentRecord `json:"documents"`
}

func (p *PermitRecord) Normalize() bool {
	changed := false
	setText(&p.PermitID, strings.TrimSpace(p.PermitID), &changed)
	setText(&p.PropertyID, strings.TrimSpace(p.PropertyID), &changed)
	setText(&p.PermitType, NormalizePermitType(p.PermitType), &changed)
	setText(&p.PermitNumber, strings.TrimSpace(p.PermitNumber), &changed)
	setText(&p.NextActionText, strings.TrimSpace(p.NextActionText), &changed)
	setText(&p.NextActionDue, strings.TrimSpace(p.NextActionDue), &changed)
	setText(&p.RequestDate, strings.TrimSpace(p.RequestDate), &changed)
	setText(&p.ApplicationDate, strings.TrimSpace(p.ApplicationDate), &changed)
	setText(&p.IssuedDate, strings.TrimSpace(p.IssuedDate), &changed)
	setText(&p.FinalDate, strings.TrimSpace(p.FinalDate), &changed)
	setText(&p.CompletionDate, strings.TrimSpace(p.CompletionDate), &changed)
	status := strings.ToLower(strings.TrimSpace(p.Status))
	if !IsMajorEventType(status) {
		status = EventRequested
	}
	setText(&p.Status, status, &changed)
	if p.Parties == nil {
		p.Parties = []PermitParty{}
		changed = true
	}
	for i := range p.Parties {
		party := &p.Parties[i]
		setText(&party.ContactID, strings.TrimSpace(party.ContactID), &changed)
		setText(&party.Role, strings.TrimSpace(party.Role), &changed)
		setText(&party.Note, strings.TrimSpace(party.Note), &changed)
	}
	if p.Events == nil {
		p.Events = []PermitEventRecord{}
		changed = true
	}
	for i := range p.Events {
		event := &p.Events[i]
		if strings.TrimSpace(event.EventID) == "" {
			event.EventID = NewID()
			changed = true
		}
		setText(&event.EventType, NormalizeEventType(event.EventType), &changed)
		setText(&event.EventDate, strings.TrimSpace(event.EventDate), &changed)
		setText(&event.Summary, strings.TrimSpace(event.Summary), &changed)
		setText(&event.Detail, strings.TrimSpace(event.Detail), &changed)
		setText(&event.ActorContactID, strings.TrimSpace(event.ActorContactID), &changed)
		setStrings(&event.Attachments, DedupStrings(event.Attachments), &changed)
	}
	if p.DocumentSlots == nil {
		p.DocumentSlots = []PermitDocumentSlot{}
		changed = true
	}
	if p.DocumentFolders == nil {
		p.DocumentFolders = []PermitDocumentFolder{}
		changed = true
	}
	if p.Documents == nil {
		p.Documents = []PermitDocumentRecord{}
		changed = true
	}
	return changed
}

// Bundle is the persistence unit: every entity list plus the active template
// mapping per permit type. The remote revision counter lives on the remote
// store, not on the bundle itself.
type Bundle struct {
	Contacts                  []ContactRecord             `json:"contacts"`
	Jurisdictions             []JurisdictionRecord        `json:"jurisdictions"`
	Properties                []PropertyRecord            `json:"properties"`
	Permits                   []PermitRecord              `json:"permits"`
	DocumentTemplates         []DocumentChecklistTemplate `json:"document_templates"`
	ActiveDocumentTemplateIDs map[string]string           `json:"active_document_template_ids"`
}

// NewBundle returns an empty bundle with every collection allocated, so that
// encoding yields [] and {} rather than null.
func NewBundle() *Bundle {
	return &Bundle{
		Contacts:                  []ContactRecord{},
		Jurisdictions:             []JurisdictionRecord{},
		Properties:                []PropertyRecord{},
		Permits:                   []PermitRecord{},
		DocumentTemplates:         []DocumentChecklistTemplate{},
		ActiveDocumentTemplateIDs: map[string]string{},
	}
}

// Normalize brings every entity to normalized form in place. It does not run
// the document reconciler; that is a separate pass (ReconcileDocuments).
func (b *Bundle) Normalize() bool {
	changed := false
	if b.Contacts == nil {
		b.Contacts = []ContactRecord{}
		changed = true
	}
	if b.Jurisdictions == nil {
		b.Jurisdictions = []JurisdictionRecord{}
		changed = true
	}
	if b.Properties == nil {
		b.Properties = []PropertyRecord{}
		changed = true
	}
	if b.Permits == nil {
		b.Permits = []PermitRecord{}
		changed = true
	}
	if b.DocumentTemplates == nil {
		b.DocumentTemplates = []DocumentChecklistTemplate{}
		changed = true
	}
	if b.ActiveDocumentTemplateIDs == nil {
		b.ActiveDocumentTemplateIDs = map[string]string{}
		changed = true
	}
	for i := range b.Contacts {
		if b.Contacts[i].Normalize() {
			changed = true
		}
	}
	for i := range b.Jurisdictions {
		if b.Jurisdictions[i].Normalize() {
			changed = true
		}
	}
	for i := range b.Properties {
		if b.Properties[i].Normalize() {
			changed = true
		}
	}
	for i := range b.Permits {
		if b.Permits[i].Normalize() {
			changed = true
		}
	}
	for i := range b.DocumentTemplates {
		if b.DocumentTemplates[i].Normalize() {
			changed = true
		}
	}
	return changed
}

// EncodePayload renders the bundle in its stable persisted JSON form. Field
// names are load-bearing: other devices parse them.
func EncodePayload(b *Bundle) ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// DecodePayload parses a persisted bundle and normalizes it. The boolean
// reports whether the stored form needed repair (a persist is warranted).
func DecodePayload(data []byte) (*Bundle, bool, error) {
	bundle := NewBundle()
	if err := json.Unmarshal(data, bundle); err != nil {
		return nil, false, err
	}
	repaired := bundle.Normalize()
	return bundle, repaired, nil
}

// PayloadEqual compares two bundles in canonical encoded form.
func PayloadEqual(a, b *Bundle) bool {
	left, errA := EncodePayload(a)
	right, errB := EncodePayload(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(left, right)
}

// Clone deep-copies a bundle through its canonical encoding.
func (b *Bundle) Clone() *Bundle {
	data, err := EncodePayload(b)
	if err != nil {
		return NewBundle()
	}
	cloned, _, err := DecodePayload(data)
	if err != nil {
		return NewBundle()
	}
	return cloned
}

func setText(dst *string, value string, changed *bool) {
	if *dst != value {
		*dst = value
		*changed = true
	}
}

func setStrings(dst *[]string, value []string, changed *bool) {
	if *dst == nil || !equalStrings(*dst, value) {
		*dst = value
		*changed = true
	}
}
