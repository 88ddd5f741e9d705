package tracker

import "testing"

func TestPrefillEventsFromMilestones(t *testing.T) {
	permit := PermitRecord{
		PermitID:        "p1",
		RequestDate:     "2026-01-10",
		ApplicationDate: "2026-02-01",
		IssuedDate:      "2026-03-15",
		NextActionText:  "Call inspector",
		NextActionDue:   "2026-03-01",
	}
	events := PrefillEventsFromMilestones(&permit)

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	wantTypes := []string{EventRequested, EventSubmitted, EventNote, EventIssued}
	for i, want := range wantTypes {
		if events[i].EventType != want {
			t.Fatalf("event %d type = %q, want %q", i, events[i].EventType, want)
		}
	}
	note := events[2]
	if note.Summary != "Call inspector" || note.Detail != "Due: 2026-03-01" {
		t.Fatalf("unexpected note: %+v", note)
	}
	for _, event := range events {
		if event.EventID == "" {
			t.Fatalf("events must carry fresh ids")
		}
	}
}

func TestPrefillEventsSkipsEmptyMilestones(t *testing.T) {
	permit := PermitRecord{PermitID: "p1", IssuedDate: "2026-03-15"}
	events := PrefillEventsFromMilestones(&permit)
	if len(events) != 1 || events[0].EventType != EventIssued {
		t.Fatalf("got %+v", events)
	}
}

func TestNextActionDetail(t *testing.T) {
	if got := NextActionDetail("  2026-03-01 "); got != "Due: 2026-03-01" {
		t.Fatalf("got %q", got)
	}
	if got := NextActionDetail("  "); got != "" {
		t.Fatalf("got %q", got)
	}
}
