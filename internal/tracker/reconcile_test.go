package tracker

import (
	"testing"
)

func TestReconcileSeedsDefaultSlotsForPermitType(t *testing.T) {
	permit := PermitRecord{PermitID: "p1", PermitType: PermitTypeDemolition}
	permit.Normalize()

	if !ReconcileDocuments(&permit) {
		t.Fatalf("expected reconcile to report changes on an empty permit")
	}
	if len(permit.DocumentSlots) != 4 {
		t.Fatalf("expected 4 default demolition slots, got %d", len(permit.DocumentSlots))
	}
	if permit.DocumentSlots[2].SlotID != "asbestos_survey" {
		t.Fatalf("unexpected slot order: %+v", permit.DocumentSlots)
	}
	for _, slot := range permit.DocumentSlots {
		if slot.ActiveCycle != 1 {
			t.Fatalf("default slot %s should start at cycle 1, got %d", slot.SlotID, slot.ActiveCycle)
		}
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	permit := PermitRecord{
		PermitID:   "p1",
		PermitType: PermitTypeBuilding,
		DocumentSlots: []PermitDocumentSlot{
			{SlotID: "  Site Plan!! ", Label: ""},
			{SlotID: "site_plan"},
			{SlotID: "plans", FolderID: "plans"},
		},
		Documents: []PermitDocumentRecord{
			{FolderID: "plans", RelativePath: "plans/cycle-2/a.pdf", ImportedAt: "2026-01-02T10:00:00Z"},
			{FolderID: "plans", RelativePath: "plans/cycle-2/b.pdf", ImportedAt: "2026-01-01T10:00:00Z"},
		},
		DocumentFolders: []PermitDocumentFolder{
			{FolderID: "plans", Name: "Plans", ParentFolderID: "missing_parent"},
		},
	}
	permit.Normalize()

	if !ReconcileDocuments(&permit) {
		t.Fatalf("first reconcile should change the permit")
	}
	snapshotJSON := mustEncodePermit(t, &permit)
	if ReconcileDocuments(&permit) {
		t.Fatalf("second reconcile must be a no-op")
	}
	if got := mustEncodePermit(t, &permit); got != snapshotJSON {
		t.Fatalf("second reconcile mutated the permit:\nbefore: %s\nafter:  %s", snapshotJSON, got)
	}
}

func TestReconcileDeduplicatesSlotIDsKeepingFirst(t *testing.T) {
	permit := PermitRecord{
		PermitID: "p1",
		DocumentSlots: []PermitDocumentSlot{
			{SlotID: "Site--Plan", Label: "First"},
			{SlotID: "site_plan", Label: "Second"},
			{Label: "Permit Application"},
		},
	}
	ReconcileDocuments(&permit)

	if len(permit.DocumentSlots) != 2 {
		t.Fatalf("expected 2 slots after dedup, got %+v", permit.DocumentSlots)
	}
	if permit.DocumentSlots[0].SlotID != "site_plan" || permit.DocumentSlots[0].Label != "First" {
		t.Fatalf("dedup should keep the first occurrence, got %+v", permit.DocumentSlots[0])
	}
	if permit.DocumentSlots[1].SlotID != "permit_application" {
		t.Fatalf("slot id should derive from the label, got %+v", permit.DocumentSlots[1])
	}
}

func TestReconcileInfersCycleFromRelativePath(t *testing.T) {
	permit := PermitRecord{
		PermitID:      "p1",
		DocumentSlots: []PermitDocumentSlot{{SlotID: "plans", FolderID: "plans"}},
		Documents: []PermitDocumentRecord{
			{DocumentID: "d1", FolderID: "plans", RelativePath: "plans/cycle-3/rev.pdf"},
			{DocumentID: "d2", FolderID: "plans", RelativePath: `plans\CYCLE-2\rev.pdf`},
			{DocumentID: "d3", FolderID: "plans", RelativePath: "plans/latest/rev.pdf"},
		},
	}
	ReconcileDocuments(&permit)

	got := []int{permit.Documents[0].CycleIndex, permit.Documents[1].CycleIndex, permit.Documents[2].CycleIndex}
	want := []int{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cycle inference mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestReconcileRepairsRevisionIndexes(t *testing.T) {
	permit := PermitRecord{
		PermitID:      "p1",
		DocumentSlots: []PermitDocumentSlot{{SlotID: "plans", FolderID: "plans"}},
		Documents: []PermitDocumentRecord{
			{DocumentID: "b", FolderID: "plans", CycleIndex: 1, RevisionIndex: 1, ImportedAt: "2026-02-01T00:00:00Z"},
			{DocumentID: "a", FolderID: "plans", CycleIndex: 1, RevisionIndex: 1, ImportedAt: "2026-01-01T00:00:00Z"},
			{DocumentID: "c", FolderID: "plans", CycleIndex: 2, RevisionIndex: 9, ImportedAt: "2026-03-01T00:00:00Z"},
		},
	}
	ReconcileDocuments(&permit)

	byID := map[string]PermitDocumentRecord{}
	for _, doc := range permit.Documents {
		byID[doc.DocumentID] = doc
	}
	// Within (plans, cycle 1) the earlier import keeps revision 1, the later
	// duplicate is raised. An already-high revision is never lowered.
	if byID["a"].RevisionIndex != 1 || byID["b"].RevisionIndex != 2 {
		t.Fatalf("revision repair wrong: a=%d b=%d", byID["a"].RevisionIndex, byID["b"].RevisionIndex)
	}
	if byID["c"].RevisionIndex != 9 {
		t.Fatalf("revision in another cycle should be untouched, got %d", byID["c"].RevisionIndex)
	}
}

func TestReconcileAdvancesActiveCycleButNeverRetreats(t *testing.T) {
	permit := PermitRecord{
		PermitID: "p1",
		DocumentSlots: []PermitDocumentSlot{
			{SlotID: "plans", FolderID: "plans", ActiveCycle: 1},
			{SlotID: "site_plan", FolderID: "site_plan", ActiveCycle: 5},
		},
		Documents: []PermitDocumentRecord{
			{DocumentID: "d1", FolderID: "plans", CycleIndex: 3},
			{DocumentID: "d2", FolderID: "site_plan", CycleIndex: 2},
		},
	}
	ReconcileDocuments(&permit)

	if permit.DocumentSlots[0].ActiveCycle != 3 {
		t.Fatalf("active cycle should advance to 3, got %d", permit.DocumentSlots[0].ActiveCycle)
	}
	if permit.DocumentSlots[1].ActiveCycle != 5 {
		t.Fatalf("active cycle must never retreat, got %d", permit.DocumentSlots[1].ActiveCycle)
	}
}

func TestReconcileForcesFolderGraphIntoSingleRootedTree(t *testing.T) {
	permit := PermitRecord{
		PermitID: "p1",
		DocumentSlots: []PermitDocumentSlot{
			{SlotID: "plans", FolderID: "plans"},
			{SlotID: "site_plan", FolderID: "site_plan"},
		},
		DocumentFolders: []PermitDocumentFolder{
			{FolderID: "general", Name: "General", ParentFolderID: ""},
			{FolderID: "orphans", Name: "Orphans", ParentFolderID: ""},
			{FolderID: "plans", Name: "Plans", ParentFolderID: "site_plan"},
			{FolderID: "site_plan", Name: "Site Plan", ParentFolderID: "plans"},
			{FolderID: "dangling", Name: "Dangling", ParentFolderID: "nowhere"},
		},
		Documents: []PermitDocumentRecord{
			{DocumentID: "d1", FolderID: "orphans"},
			{DocumentID: "d2", FolderID: "dangling"},
		},
	}
	ReconcileDocuments(&permit)

	roots := 0
	index := map[string]PermitDocumentFolder{}
	for _, folder := range permit.DocumentFolders {
		index[folder.FolderID] = folder
		if folder.ParentFolderID == "" {
			roots++
			if folder.FolderID != "general" {
				t.Fatalf("root should be general, got %s", folder.FolderID)
			}
		}
	}
	if roots != 1 {
		t.Fatalf("expected exactly one root folder, got %d", roots)
	}
	// Every folder walks to the root without revisiting anyone.
	for _, folder := range permit.DocumentFolders {
		visited := map[string]bool{}
		current := folder.FolderID
		for current != "general" {
			if visited[current] {
				t.Fatalf("cycle through %s", current)
			}
			visited[current] = true
			node, exists := index[current]
			if !exists {
				t.Fatalf("folder %s missing from tree", current)
			}
			if node.ParentFolderID == "" {
				t.Fatalf("non-root folder %s has empty parent", node.FolderID)
			}
			current = node.ParentFolderID
		}
	}
	// The mutual plans<->site_plan cycle was broken by reattaching under root.
	if index["plans"].ParentFolderID != "general" && index["site_plan"].ParentFolderID != "general" {
		t.Fatalf("parent cycle not broken: plans=%q site_plan=%q",
			index["plans"].ParentFolderID, index["site_plan"].ParentFolderID)
	}
}

func TestRefreshSlotStatusTable(t *testing.T) {
	cases := []struct {
		name   string
		docs   []PermitDocumentRecord
		cycle  int
		expect string
	}{
		{name: "no documents", docs: nil, cycle: 1, expect: SlotStatusMissing},
		{
			name:   "only older cycles",
			docs:   []PermitDocumentRecord{{DocumentID: "d", FolderID: "plans", CycleIndex: 1, ReviewStatus: ReviewAccepted}},
			cycle:  2,
			expect: SlotStatusSuperseded,
		},
		{
			name: "older accepted ignored by newer rejection",
			docs: []PermitDocumentRecord{
				{DocumentID: "d1", FolderID: "plans", CycleIndex: 1, ReviewStatus: ReviewAccepted},
				{DocumentID: "d2", FolderID: "plans", CycleIndex: 2, ReviewStatus: ReviewRejected},
			},
			cycle:  2,
			expect: SlotStatusRejected,
		},
		{
			name: "accepted beats rejected in cycle",
			docs: []PermitDocumentRecord{
				{DocumentID: "d1", FolderID: "plans", CycleIndex: 2, ReviewStatus: ReviewRejected},
				{DocumentID: "d2", FolderID: "plans", CycleIndex: 2, ReviewStatus: ReviewAccepted},
			},
			cycle:  2,
			expect: SlotStatusAccepted,
		},
		{
			name: "uploaded beats rejected",
			docs: []PermitDocumentRecord{
				{DocumentID: "d1", FolderID: "plans", CycleIndex: 1, ReviewStatus: ReviewRejected},
				{DocumentID: "d2", FolderID: "plans", CycleIndex: 1, ReviewStatus: ""},
			},
			cycle:  1,
			expect: SlotStatusUploaded,
		},
		{
			name:   "rejected alone",
			docs:   []PermitDocumentRecord{{DocumentID: "d", FolderID: "plans", CycleIndex: 1, ReviewStatus: ReviewRejected}},
			cycle:  1,
			expect: SlotStatusRejected,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			permit := PermitRecord{
				PermitID:      "p1",
				DocumentSlots: []PermitDocumentSlot{{SlotID: "plans", FolderID: "plans", ActiveCycle: tc.cycle}},
				Documents:     tc.docs,
			}
			permit.Normalize()
			RefreshSlotStatus(&permit)
			if got := permit.DocumentSlots[0].Status; got != tc.expect {
				t.Fatalf("status = %q, want %q", got, tc.expect)
			}
		})
	}
}

func TestComputePermitStatusLatestMajorEventWins(t *testing.T) {
	events := []PermitEventRecord{
		{EventType: EventIssued, EventDate: "2026-03-01"},
		{EventType: EventNote, EventDate: "2026-06-01"},
		{EventType: EventSubmitted, EventDate: "2026-01-01"},
	}
	if got := ComputePermitStatus(events, ""); got != EventIssued {
		t.Fatalf("status = %q, want issued", got)
	}
}

func TestComputePermitStatusTieBrokenByListPosition(t *testing.T) {
	events := []PermitEventRecord{
		{EventType: EventSubmitted, EventDate: "2026-03-01"},
		{EventType: EventIssued, EventDate: "2026-03-01"},
	}
	if got := ComputePermitStatus(events, ""); got != EventIssued {
		t.Fatalf("later list position should win the tie, got %q", got)
	}
}

func TestComputePermitStatusUnparseableDatesLose(t *testing.T) {
	events := []PermitEventRecord{
		{EventType: EventFinaled, EventDate: "not a date"},
		{EventType: EventSubmitted, EventDate: "2026-01-01"},
	}
	if got := ComputePermitStatus(events, ""); got != EventSubmitted {
		t.Fatalf("dated event should beat undated one, got %q", got)
	}
}

func TestComputePermitStatusFallback(t *testing.T) {
	if got := ComputePermitStatus(nil, EventIssued); got != EventIssued {
		t.Fatalf("major fallback should survive, got %q", got)
	}
	if got := ComputePermitStatus(nil, "whatever"); got != EventRequested {
		t.Fatalf("non-major fallback should collapse to requested, got %q", got)
	}
	noteOnly := []PermitEventRecord{{EventType: EventNote, EventDate: "2026-01-01"}}
	if got := ComputePermitStatus(noteOnly, ""); got != EventRequested {
		t.Fatalf("notes never drive status, got %q", got)
	}
}

func mustEncodePermit(t *testing.T, p *PermitRecord) string {
	t.Helper()
	bundle := NewBundle()
	bundle.Permits = []PermitRecord{*p}
	data, err := EncodePayload(bundle)
	if err != nil {
		t.Fatalf("encode permit: %v", err)
	}
	return string(data)
}
