package tracker

import (
	"sort"
	"strings"
	"time"
)

// NextActionDetail formats the stored detail line for a next-action note.
func NextActionDetail(due string) string {
	text := strings.TrimSpace(due)
	if text == "" {
		return ""
	}
	return "Due: " + text
}

// PrefillEventsFromMilestones builds the lifecycle event rows implied by a
// permit's milestone dates plus an optional next-action note, sorted by
// (date, lifecycle order). Milestones without a date produce no event.
func PrefillEventsFromMilestones(p *PermitRecord) []PermitEventRecord {
	type row struct {
		order int
		event PermitEventRecord
	}
	rows := []row{}
	milestones := []struct {
		date      string
		eventType string
		summary   string
	}{
		{p.RequestDate, EventRequested, "Permit requested"},
		{p.ApplicationDate, EventSubmitted, "Application submitted"},
		{p.IssuedDate, EventIssued, "Permit issued"},
		{p.FinalDate, EventFinaled, "Permit finaled"},
		{p.CompletionDate, EventClosed, "Permit closed"},
	}
	for order, milestone := range milestones {
		date := strings.TrimSpace(milestone.date)
		if date == "" {
			continue
		}
		rows = append(rows, row{
			order: order,
			event: PermitEventRecord{
				EventID:     NewID(),
				EventType:   milestone.eventType,
				EventDate:   date,
				Summary:     milestone.summary,
				Attachments: []string{},
			},
		})
	}

	summary := strings.TrimSpace(p.NextActionText)
	due := strings.TrimSpace(p.NextActionDue)
	if summary != "" || due != "" {
		date := due
		if _, ok := ParseISODate(due); !ok {
			date = time.Now().UTC().Format("2006-01-02")
		}
		if summary == "" {
			summary = "Next Action"
		}
		rows = append(rows, row{
			order: len(milestones),
			event: PermitEventRecord{
				EventID:     NewID(),
				EventType:   EventNote,
				EventDate:   date,
				Summary:     summary,
				Detail:      NextActionDetail(due),
				Attachments: []string{},
			},
		})
	}

	sort.SliceStable(rows, func(a, b int) bool {
		left, _ := ParseISODate(rows[a].event.EventDate)
		right, _ := ParseISODate(rows[b].event.EventDate)
		if !left.Equal(right) {
			return left.Before(right)
		}
		return rows[a].order < rows[b].order
	})
	events := make([]PermitEventRecord, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.event)
	}
	return events
}
