package tracker

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RootFolderID is the folder id used when a permit has no root folder yet.
const RootFolderID = "general"

var cyclePathPattern = regexp.MustCompile(`(?i)^cycle-(\d+)$`)

// ReconcileDocuments makes a permit's document_slots, document_folders and
// documents mutually consistent: slot ids are normalized and deduplicated,
// document records are re-keyed through the slot map, revision numbers are
// repaired to be strictly increasing per (folder, cycle), active cycles only
// ever advance, and the folder graph is forced into a tree rooted at exactly
// one folder. Idempotent: a second call returns false and mutates nothing.
func ReconcileDocuments(p *PermitRecord) bool {
	changed := false

	if len(p.DocumentSlots) == 0 {
		p.DocumentSlots = DefaultDocumentSlots(p.PermitType)
		changed = true
	}

	slots := normalizeDocumentSlots(p.DocumentSlots)
	if !equalDocumentSlots(p.DocumentSlots, slots) {
		p.DocumentSlots = slots
		changed = true
	}

	folderToSlot := map[string]string{}
	for _, slot := range p.DocumentSlots {
		if _, exists := folderToSlot[slot.FolderID]; !exists {
			folderToSlot[slot.FolderID] = slot.SlotID
		}
	}

	if normalizeDocumentRecords(p, folderToSlot) {
		changed = true
	}
	if repairRevisionIndexes(p.Documents) {
		changed = true
	}
	if advanceActiveCycles(p) {
		changed = true
	}
	if rebuildFolderTree(p) {
		changed = true
	}
	return changed
}

func normalizeDocumentSlots(slots []PermitDocumentSlot) []PermitDocumentSlot {
	out := []PermitDocumentSlot{}
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
		activeCycle := slot.ActiveCycle
		if activeCycle < 1 {
			activeCycle = 1
		}
		out = append(out, PermitDocumentSlot{
			SlotID:      slotID,
			Label:       label,
			Required:    slot.Required,
			Status:      NormalizeSlotStatus(slot.Status),
			FolderID:    folderID,
			ActiveCycle: activeCycle,
		})
	}
	return out
}

func normalizeDocumentRecords(p *PermitRecord, folderToSlot map[string]string) bool {
	changed := false
	slotToFolder := map[string]string{}
	for folderID, slotID := range folderToSlot {
		if _, exists := slotToFolder[slotID]; !exists {
			slotToFolder[slotID] = folderID
		}
	}
	for i := range p.Documents {
		doc := &p.Documents[i]
		if strings.TrimSpace(doc.DocumentID) == "" {
			doc.DocumentID = NewID()
			changed = true
		}
		folderID := NormalizeSlotID(doc.FolderID)
		if folderID == "" {
			if mapped, ok := slotToFolder[NormalizeSlotID(doc.SlotID)]; ok {
				folderID = mapped
			} else {
				folderID = RootFolderID
			}
		}
		setText(&doc.FolderID, folderID, &changed)
		slotID, ok := folderToSlot[folderID]
		if !ok {
			slotID = NormalizeSlotID(doc.SlotID)
		}
		setText(&doc.SlotID, slotID, &changed)
		cycle := doc.CycleIndex
		if cycle < 1 {
			cycle = cycleFromRelativePath(doc.RelativePath)
		}
		if doc.CycleIndex != cycle {
			doc.CycleIndex = cycle
			changed = true
		}
		setText(&doc.ReviewStatus, NormalizeReviewStatus(doc.ReviewStatus), &changed)
		setText(&doc.OriginalName, strings.TrimSpace(doc.OriginalName), &changed)
		setText(&doc.StoredName, strings.TrimSpace(doc.StoredName), &changed)
		setText(&doc.RelativePath, strings.TrimSpace(doc.RelativePath), &changed)
		setText(&doc.SHA256, strings.TrimSpace(doc.SHA256), &changed)
		setText(&doc.ImportedAt, strings.TrimSpace(doc.ImportedAt), &changed)
		if doc.ByteSize < 0 {
			doc.ByteSize = 0
			changed = true
		}
	}
	return changed
}

// cycleFromRelativePath recovers the cycle index from a "cycle-NN" path
// segment, defaulting to the first cycle.
func cycleFromRelativePath(relativePath string) int {
	normalized := strings.ReplaceAll(relativePath, "\\", "/")
	for _, segment := range strings.Split(normalized, "/") {
		match := cyclePathPattern.FindStringSubmatch(strings.TrimSpace(segment))
		if match == nil {
			continue
		}
		if value, err := strconv.Atoi(match[1]); err == nil && value >= 1 {
			return value
		}
	}
	return 1
}

// repairRevisionIndexes makes revision numbers strictly increasing within
// each (folder, cycle) group, ordered by (imported_at, document_id). A
// revision is only ever raised, never lowered.
func repairRevisionIndexes(docs []PermitDocumentRecord) bool {
	changed := false
	type folderCycle struct {
		folderID string
		cycle    int
	}
	groups := map[folderCycle][]int{}
	for i, doc := range docs {
		key := folderCycle{folderID: doc.FolderID, cycle: doc.CycleIndex}
		groups[key] = append(groups[key], i)
	}
	for _, indexes := range groups {
		sort.SliceStable(indexes, func(a, b int) bool {
			left, right := docs[indexes[a]], docs[indexes[b]]
			if left.ImportedAt != right.ImportedAt {
				return left.ImportedAt < right.ImportedAt
			}
			return left.DocumentID < right.DocumentID
		})
		last := 0
		for _, idx := range indexes {
			if docs[idx].RevisionIndex <= last {
				docs[idx].RevisionIndex = last + 1
				changed = true
			}
			last = docs[idx].RevisionIndex
		}
	}
	return changed
}

// advanceActiveCycles lifts each slot's active cycle to the highest cycle
// seen among its folder's documents. Active cycles never move backwards.
func advanceActiveCycles(p *PermitRecord) bool {
	changed := false
	maxCycleByFolder := map[string]int{}
	for _, doc := range p.Documents {
		cycle := doc.CycleIndex
		if cycle < 1 {
			cycle = 1
		}
		if cycle > maxCycleByFolder[doc.FolderID] {
			maxCycleByFolder[doc.FolderID] = cycle
		}
	}
	for i := range p.DocumentSlots {
		slot := &p.DocumentSlots[i]
		if highest := maxCycleByFolder[slot.FolderID]; highest > slot.ActiveCycle {
			slot.ActiveCycle = highest
			changed = true
		}
	}
	return changed
}

// rebuildFolderTree keeps one folder per folder id referenced by a slot or a
// document plus a single root, preserving existing display names, and then
// forces the parent graph into a tree: duplicate roots, dangling parents and
// parent cycles are all reattached directly under the root.
func rebuildFolderTree(p *PermitRecord) bool {
	original := make([]PermitDocumentFolder, len(p.DocumentFolders))
	copy(original, p.DocumentFolders)

	folders := []PermitDocumentFolder{}
	index := map[string]int{}
	for _, folder := range p.DocumentFolders {
		folderID := NormalizeSlotID(folder.FolderID)
		if folderID == "" {
			continue
		}
		if _, exists := index[folderID]; exists {
			continue
		}
		name := strings.TrimSpace(folder.Name)
		if name == "" {
			name = SlotLabelFromID(folderID)
		}
		index[folderID] = len(folders)
		folders = append(folders, PermitDocumentFolder{
			FolderID:       folderID,
			Name:           name,
			ParentFolderID: NormalizeSlotID(folder.ParentFolderID),
		})
	}

	// Exactly one root: the first folder claiming parent "", else a folder
	// named like the root id, else a fresh General folder.
	rootID := ""
	for _, folder := range folders {
		if folder.ParentFolderID == "" {
			rootID = folder.FolderID
			break
		}
	}
	if rootID == "" {
		if at, exists := index[RootFolderID]; exists {
			folders[at].ParentFolderID = ""
			rootID = RootFolderID
		}
	}
	if rootID == "" {
		index[RootFolderID] = len(folders)
		folders = append(folders, PermitDocumentFolder{FolderID: RootFolderID, Name: "General", ParentFolderID: ""})
		rootID = RootFolderID
	}

	// Folders referenced by slots and documents must exist.
	labelBySlotFolder := map[string]string{}
	referenced := map[string]bool{rootID: true}
	for _, slot := range p.DocumentSlots {
		referenced[slot.FolderID] = true
		if _, exists := labelBySlotFolder[slot.FolderID]; !exists {
			labelBySlotFolder[slot.FolderID] = slot.Label
		}
	}
	for _, doc := range p.Documents {
		if doc.FolderID != "" {
			referenced[doc.FolderID] = true
		}
	}
	kept := []PermitDocumentFolder{}
	keptIndex := map[string]int{}
	for _, folder := range folders {
		if !referenced[folder.FolderID] {
			continue
		}
		keptIndex[folder.FolderID] = len(kept)
		kept = append(kept, folder)
	}
	referencedIDs := make([]string, 0, len(referenced))
	for folderID := range referenced {
		referencedIDs = append(referencedIDs, folderID)
	}
	sort.Strings(referencedIDs)
	for _, folderID := range referencedIDs {
		if _, exists := keptIndex[folderID]; exists {
			continue
		}
		name := strings.TrimSpace(labelBySlotFolder[folderID])
		if name == "" {
			name = SlotLabelFromID(folderID)
		}
		keptIndex[folderID] = len(kept)
		kept = append(kept, PermitDocumentFolder{FolderID: folderID, Name: name, ParentFolderID: rootID})
	}

	// Repair parents: only the root keeps parent ""; unknown parents and
	// later duplicate roots hang directly off the root.
	for i := range kept {
		folder := &kept[i]
		if folder.FolderID == rootID {
			folder.ParentFolderID = ""
			continue
		}
		if folder.ParentFolderID == "" {
			folder.ParentFolderID = rootID
			continue
		}
		if _, exists := keptIndex[folder.ParentFolderID]; !exists {
			folder.ParentFolderID = rootID
		}
	}

	// Cycle guard: every non-root folder must reach the root within
	// len(folders)+1 hops without revisiting a folder.
	maxHops := len(kept) + 1
	for i := range kept {
		if kept[i].FolderID == rootID {
			continue
		}
		visited := map[string]bool{kept[i].FolderID: true}
		current := kept[i].ParentFolderID
		resolved := false
		for hop := 0; hop < maxHops; hop++ {
			if current == rootID {
				resolved = true
				break
			}
			if current == "" || visited[current] {
				break
			}
			visited[current] = true
			at, exists := keptIndex[current]
			if !exists {
				break
			}
			current = kept[at].ParentFolderID
		}
		if !resolved {
			kept[i].ParentFolderID = rootID
		}
	}

	if equalDocumentFolders(original, kept) {
		return false
	}
	p.DocumentFolders = kept
	return true
}

func equalDocumentSlots(a, b []PermitDocumentSlot) bool {
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

func equalDocumentFolders(a, b []PermitDocumentFolder) bool {
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

// RefreshSlotStatus derives each slot's status from the documents in its
// folder, considering only the active cycle. Must run after
// ReconcileDocuments since it relies on normalized folder and cycle data.
func RefreshSlotStatus(p *PermitRecord) bool {
	changed := false
	docsByFolder := map[string][]PermitDocumentRecord{}
	for _, doc := range p.Documents {
		docsByFolder[doc.FolderID] = append(docsByFolder[doc.FolderID], doc)
	}
	for i := range p.DocumentSlots {
		slot := &p.DocumentSlots[i]
		status := deriveSlotStatus(docsByFolder[slot.FolderID], slot.ActiveCycle)
		if slot.Status != status {
			slot.Status = status
			changed = true
		}
	}
	return changed
}

func deriveSlotStatus(docs []PermitDocumentRecord, activeCycle int) string {
	if len(docs) == 0 {
		return SlotStatusMissing
	}
	counts := map[string]int{}
	inCycle := 0
	for _, doc := range docs {
		if doc.CycleIndex != activeCycle {
			continue
		}
		inCycle++
		counts[NormalizeReviewStatus(doc.ReviewStatus)]++
	}
	if inCycle == 0 {
		return SlotStatusSuperseded
	}
	// Accepted documents dominate even when a rejected copy coexists.
	for _, status := range []string{ReviewAccepted, ReviewUploaded, ReviewRejected, ReviewSuperseded} {
		if counts[status] > 0 {
			return status
		}
	}
	return SlotStatusUploaded
}

// ComputePermitStatus derives the permit status from its event log: the
// major event with the latest date wins, ties broken by later list position.
// Unparseable dates order below every parseable one. With no major events
// the fallback survives when it is itself a major type, else "requested".
func ComputePermitStatus(events []PermitEventRecord, fallback string) string {
	best := ""
	bestDate := time.Time{}
	found := false
	for _, event := range events {
		eventType := NormalizeEventType(event.EventType)
		if eventType == EventNote {
			continue
		}
		date, _ := ParseISODate(event.EventDate)
		if !found || !date.Before(bestDate) {
			best = eventType
			bestDate = date
			found = true
		}
	}
	if found {
		return best
	}
	normalizedFallback := strings.ToLower(strings.TrimSpace(fallback))
	if IsMajorEventType(normalizedFallback) {
		return normalizedFallback
	}
	return EventRequested
}
