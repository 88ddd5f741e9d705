package tracker

import (
	"strings"
	"time"
	"unicode"
)

// Permit types accepted by the tracker. Unknown values collapse to building.
const (
	PermitTypeBuilding   = "building"
	PermitTypeDemolition = "demolition"
	PermitTypeRemodeling = "remodeling"
)

// Jurisdiction types.
const (
	JurisdictionTypeCity   = "city"
	JurisdictionTypeCounty = "county"
)

// Event types. Every type except note is a "major" lifecycle event and can
// become the permit status.
const (
	EventRequested = "requested"
	EventSubmitted = "submitted"
	EventIssued    = "issued"
	EventFinaled   = "finaled"
	EventClosed    = "closed"
	EventNote      = "note"
)

// Slot statuses derived from the documents in the slot's active cycle.
const (
	SlotStatusMissing    = "missing"
	SlotStatusUploaded   = "uploaded"
	SlotStatusAccepted   = "accepted"
	SlotStatusRejected   = "rejected"
	SlotStatusSuperseded = "superseded"
)

// Review statuses carried by individual document records.
const (
	ReviewUploaded   = "uploaded"
	ReviewAccepted   = "accepted"
	ReviewRejected   = "rejected"
	ReviewSuperseded = "superseded"
)

var majorEventTypes = map[string]bool{
	EventRequested: true,
	EventSubmitted: true,
	EventIssued:    true,
	EventFinaled:   true,
	EventClosed:    true,
}

func NormalizePermitType(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case PermitTypeDemolition:
		return PermitTypeDemolition
	case PermitTypeRemodeling:
		return PermitTypeRemodeling
	default:
		return PermitTypeBuilding
	}
}

func NormalizeJurisdictionType(value string) string {
	if strings.ToLower(strings.TrimSpace(value)) == JurisdictionTypeCounty {
		return JurisdictionTypeCounty
	}
	return JurisdictionTypeCity
}

func NormalizeEventType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if majorEventTypes[normalized] {
		return normalized
	}
	return EventNote
}

// IsMajorEventType reports whether the type counts toward permit status.
func IsMajorEventType(value string) bool {
	return majorEventTypes[strings.ToLower(strings.TrimSpace(value))]
}

func NormalizeReviewStatus(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case ReviewAccepted:
		return ReviewAccepted
	case ReviewRejected:
		return ReviewRejected
	case ReviewSuperseded:
		return ReviewSuperseded
	default:
		return ReviewUploaded
	}
}

func NormalizeSlotStatus(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case SlotStatusUploaded:
		return SlotStatusUploaded
	case SlotStatusAccepted:
		return SlotStatusAccepted
	case SlotStatusRejected:
		return SlotStatusRejected
	case SlotStatusSuperseded:
		return SlotStatusSuperseded
	default:
		return SlotStatusMissing
	}
}

// NormalizeParcelID lowercases the parcel id and strips every character that
// is not a letter or digit, producing the dedup token used across merges.
func NormalizeParcelID(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeSlotID turns free text into a slot/folder token: lowercase,
// non [a-z0-9_] runs collapsed to single underscores, trimmed.
func NormalizeSlotID(value string) string {
	lowered := strings.ToLower(strings.TrimSpace(value))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range lowered {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
		if !valid {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), "_")
}

// SlotLabelFromID title-cases a slot id for display ("site_plan" -> "Site Plan").
func SlotLabelFromID(slotID string) string {
	parts := strings.Split(NormalizeSlotID(slotID), "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// SplitMultiValues splits free text on commas, semicolons and newlines,
// trimming and case-insensitively deduping while preserving first-seen order.
func SplitMultiValues(raw string) []string {
	replacer := strings.NewReplacer("\r", "\n", ";", "\n", ",", "\n")
	values := []string{}
	seen := map[string]bool{}
	for _, chunk := range strings.Split(replacer.Replace(raw), "\n") {
		text := strings.TrimSpace(chunk)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if seen[key] {
			continue
		}
		seen[key] = true
		values = append(values, text)
	}
	return values
}

// DedupStrings trims and case-insensitively dedupes, keeping first-seen order.
func DedupStrings(values []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, value := range values {
		text := strings.TrimSpace(value)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, text)
	}
	return out
}

// ParseISODate parses an ISO-8601 date or datetime. The boolean is false for
// empty or unparseable input; callers treat those as the minimum time so they
// lose every date comparison.
func ParseISODate(value string) (time.Time, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return time.Time{}, false
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed.UTC(), true
		}
	}
	if len(text) >= 10 {
		if parsed, err := time.Parse("2006-01-02", text[:10]); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

func equalStrings(a, b []string) bool {
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
