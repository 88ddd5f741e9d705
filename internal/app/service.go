// Package app holds the in-memory bundle behind a service facade: it loads
// and migrates saved data, persists edits through conflict resolution, and
// applies remote refreshes pushed by the change notifier.
package app

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/permitworks/permittrack/internal/storage"
	"github.com/permitworks/permittrack/internal/syncer"
	"github.com/permitworks/permittrack/internal/tracker"
)

// Service owns the live bundle. All methods are safe for concurrent use;
// the notifier's apply callback runs on its own goroutine.
type Service struct {
	store    storage.DataStore
	resolver *syncer.Resolver
	log      zerolog.Logger

	mu       sync.Mutex
	bundle   *tracker.Bundle
	editing  bool
	notifier *syncer.Notifier

	// OnRefresh runs after the live bundle is replaced from outside an edit
	// (initial load, remote refresh, conflict resolution).
	OnRefresh func()
}

func NewService(store storage.DataStore, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		resolver: syncer.NewResolver(store, log),
		log:      log.With().Str("component", "service").Logger(),
		bundle:   tracker.NewBundle(),
	}
}

// AttachNotifier wires a remote-change notifier to this service. The
// notifier's callbacks are configured to reload through the service.
func (s *Service) AttachNotifier(notifier *syncer.Notifier) {
	notifier.EditorBusy = func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.editing
	}
	notifier.OnApply = func(trigger string) {
		if err := s.Reload(); err != nil {
			s.log.Warn().Err(err).Str("trigger", trigger).Msg("remote refresh failed")
		}
	}
	s.mu.Lock()
	s.notifier = notifier
	s.mu.Unlock()
}

// Initialize loads saved data into the service. The returned warning is
// empty unless the load recovered from a problem.
func (s *Service) Initialize() (string, error) {
	result := s.store.LoadBundle()
	if result.Warning != "" {
		s.log.Warn().Str("warning", result.Warning).Msg("load completed with warning")
	}
	migrated := s.ApplyBundle(result.Bundle, true)
	if migrated && result.Source == storage.SourceFile {
		s.log.Info().Msg("saved data migrated to current shape")
	}
	s.markRemoteApplied()
	return result.Warning, nil
}

// Reload fetches the backend's current state and replaces the live bundle.
func (s *Service) Reload() error {
	result := s.store.LoadBundle()
	if result.Source == storage.SourceEmpty && result.Warning != "" {
		return fmt.Errorf("reload failed: %s", result.Warning)
	}
	s.ApplyBundle(result.Bundle, true)
	s.markRemoteApplied()
	return nil
}

// ApplyBundle installs a bundle as the live state after running the full
// migration pipeline over a clone: normalization, dangling active-template
// pruning, parcel id recomputation, and per-permit document reconciliation
// and status derivation. The return reports whether migration changed
// anything relative to the incoming bundle.
func (s *Service) ApplyBundle(bundle *tracker.Bundle, refreshUI bool) bool {
	// Encode the input as handed to us; Clone already normalizes, so taking
	// the baseline afterwards would hide pure normalization repairs.
	before, err := tracker.EncodePayload(bundle)
	if err != nil {
		before = nil
	}
	incoming := bundle.Clone()
	incoming.Normalize()

	templateIDs := map[string]bool{}
	for _, template := range incoming.DocumentTemplates {
		if id := strings.TrimSpace(template.TemplateID); id != "" {
			templateIDs[strings.ToLower(id)] = true
		}
	}
	for permitType, templateID := range incoming.ActiveDocumentTemplateIDs {
		if !templateIDs[strings.ToLower(strings.TrimSpace(templateID))] {
			delete(incoming.ActiveDocumentTemplateIDs, permitType)
		}
	}

	for i := range incoming.Properties {
		incoming.Properties[i].RecomputeParcelNorm()
	}
	for i := range incoming.Permits {
		permit := &incoming.Permits[i]
		tracker.ReconcileDocuments(permit)
		tracker.RefreshSlotStatus(permit)
		permit.Status = tracker.ComputePermitStatus(permit.Events, permit.Status)
	}
	for i := range incoming.DocumentTemplates {
		incoming.DocumentTemplates[i].Normalize()
	}

	after, err := tracker.EncodePayload(incoming)
	migrated := err != nil || before == nil || string(before) != string(after)

	s.mu.Lock()
	s.bundle = incoming
	s.mu.Unlock()

	if refreshUI && s.OnRefresh != nil {
		s.OnRefresh()
	}
	return migrated
}

// SnapshotBundle returns a deep copy of the live bundle.
func (s *Service) SnapshotBundle() *tracker.Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bundle.Clone()
}

// BeginEdit marks the editor busy; remote refreshes are deferred until
// EndEdit.
func (s *Service) BeginEdit() {
	s.mu.Lock()
	s.editing = true
	s.mu.Unlock()
}

// EndEdit marks the editor idle and applies any refresh deferred while it
// was busy.
func (s *Service) EndEdit() {
	s.mu.Lock()
	s.editing = false
	notifier := s.notifier
	s.mu.Unlock()
	if notifier != nil {
		notifier.Flush()
	}
}

// Persist saves the live bundle through conflict resolution. When the save
// lands on a state different from the local snapshot (a merge, or the remote
// already superseding us), the resolved bundle replaces the live one.
func (s *Service) Persist() error {
	snapshot := s.SnapshotBundle()
	outcome, err := s.resolver.Save(snapshot)
	if err != nil {
		return err
	}
	if outcome.Strategy != syncer.StrategyDirect {
		s.log.Info().
			Str("strategy", outcome.Strategy).
			Int("attempts", outcome.Attempts).
			Msg("save resolved a revision conflict")
	}
	if !tracker.PayloadEqual(outcome.Bundle, snapshot) {
		s.ApplyBundle(outcome.Bundle, true)
	}
	s.markRemoteApplied()
	return nil
}

func (s *Service) markRemoteApplied() {
	s.mu.Lock()
	notifier := s.notifier
	s.mu.Unlock()
	if notifier == nil {
		return
	}
	if remote, ok := s.store.(storage.RemoteStore); ok {
		notifier.MarkApplied(remote.KnownRevision())
	}
}

// mutate runs fn against the live bundle under the lock.
func (s *Service) mutate(fn func(b *tracker.Bundle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.bundle)
}

// UpsertContact inserts or replaces a contact by id.
func (s *Service) UpsertContact(record tracker.ContactRecord) {
	record.Normalize()
	s.mutate(func(b *tracker.Bundle) {
		for i := range b.Contacts {
			if b.Contacts[i].ContactID == record.ContactID {
				b.Contacts[i] = record
				return
			}
		}
		b.Contacts = append(b.Contacts, record)
	})
}

// UpsertJurisdiction inserts or replaces a jurisdiction by id.
func (s *Service) UpsertJurisdiction(record tracker.JurisdictionRecord) {
	record.Normalize()
	s.mutate(func(b *tracker.Bundle) {
		for i := range b.Jurisdictions {
			if b.Jurisdictions[i].JurisdictionID == record.JurisdictionID {
				b.Jurisdictions[i] = record
				return
			}
		}
		b.Jurisdictions = append(b.Jurisdictions, record)
	})
}

// UpsertProperty inserts or replaces a property by id.
func (s *Service) UpsertProperty(record tracker.PropertyRecord) {
	record.RecomputeParcelNorm()
	record.Normalize()
	s.mutate(func(b *tracker.Bundle) {
		for i := range b.Properties {
			if b.Properties[i].PropertyID == record.PropertyID {
				b.Properties[i] = record
				return
			}
		}
		b.Properties = append(b.Properties, record)
	})
}

// UpsertPermit inserts or replaces a permit by id, reconciling its document
// structure and derived status on the way in.
func (s *Service) UpsertPermit(record tracker.PermitRecord) {
	record.Normalize()
	tracker.ReconcileDocuments(&record)
	tracker.RefreshSlotStatus(&record)
	record.Status = tracker.ComputePermitStatus(record.Events, record.Status)
	s.mutate(func(b *tracker.Bundle) {
		for i := range b.Permits {
			if b.Permits[i].PermitID == record.PermitID {
				b.Permits[i] = record
				return
			}
		}
		b.Permits = append(b.Permits, record)
	})
}

// UpsertDocumentTemplate inserts or replaces a checklist template by id.
func (s *Service) UpsertDocumentTemplate(record tracker.DocumentChecklistTemplate) {
	record.Normalize()
	s.mutate(func(b *tracker.Bundle) {
		for i := range b.DocumentTemplates {
			if b.DocumentTemplates[i].TemplateID == record.TemplateID {
				b.DocumentTemplates[i] = record
				return
			}
		}
		b.DocumentTemplates = append(b.DocumentTemplates, record)
	})
}

// SetActiveTemplate maps a permit type to its active checklist template.
// An empty template id clears the mapping.
func (s *Service) SetActiveTemplate(permitType, templateID string) {
	permitType = tracker.NormalizePermitType(permitType)
	templateID = strings.TrimSpace(templateID)
	s.mutate(func(b *tracker.Bundle) {
		if templateID == "" {
			delete(b.ActiveDocumentTemplateIDs, permitType)
			return
		}
		b.ActiveDocumentTemplateIDs[permitType] = templateID
	})
}

// PrefillPermitEvents seeds a permit's empty event timeline from its
// milestone dates and next-action note, then rederives its status. Permits
// that already have events are left alone.
func (s *Service) PrefillPermitEvents(permitID string) bool {
	filled := false
	s.mutate(func(b *tracker.Bundle) {
		for i := range b.Permits {
			permit := &b.Permits[i]
			if permit.PermitID != permitID || len(permit.Events) > 0 {
				continue
			}
			events := tracker.PrefillEventsFromMilestones(permit)
			if len(events) == 0 {
				continue
			}
			permit.Events = events
			permit.Status = tracker.ComputePermitStatus(permit.Events, permit.Status)
			filled = true
		}
	})
	return filled
}

// RemoveContact deletes a contact and strips its id from jurisdictions,
// properties, and permit parties.
func (s *Service) RemoveContact(contactID string) {
	s.mutate(func(b *tracker.Bundle) {
		kept := b.Contacts[:0]
		for _, record := range b.Contacts {
			if record.ContactID != contactID {
				kept = append(kept, record)
			}
		}
		b.Contacts = kept
		for i := range b.Jurisdictions {
			b.Jurisdictions[i].ContactIDs = removeString(b.Jurisdictions[i].ContactIDs, contactID)
		}
		for i := range b.Properties {
			b.Properties[i].ContactIDs = removeString(b.Properties[i].ContactIDs, contactID)
		}
		for i := range b.Permits {
			permit := &b.Permits[i]
			parties := permit.Parties[:0]
			for _, party := range permit.Parties {
				if party.ContactID != contactID {
					parties = append(parties, party)
				}
			}
			permit.Parties = parties
			for j := range permit.Events {
				if permit.Events[j].ActorContactID == contactID {
					permit.Events[j].ActorContactID = ""
				}
			}
		}
	})
}

// RemoveProperty deletes a property and every permit attached to it.
func (s *Service) RemoveProperty(propertyID string) {
	s.mutate(func(b *tracker.Bundle) {
		properties := b.Properties[:0]
		for _, record := range b.Properties {
			if record.PropertyID != propertyID {
				properties = append(properties, record)
			}
		}
		b.Properties = properties
		permits := b.Permits[:0]
		for _, record := range b.Permits {
			if record.PropertyID != propertyID {
				permits = append(permits, record)
			}
		}
		b.Permits = permits
	})
}

// RemoveJurisdiction deletes a jurisdiction and clears references to it
// from properties.
func (s *Service) RemoveJurisdiction(jurisdictionID string) {
	s.mutate(func(b *tracker.Bundle) {
		kept := b.Jurisdictions[:0]
		for _, record := range b.Jurisdictions {
			if record.JurisdictionID != jurisdictionID {
				kept = append(kept, record)
			}
		}
		b.Jurisdictions = kept
		for i := range b.Properties {
			if b.Properties[i].JurisdictionID == jurisdictionID {
				b.Properties[i].JurisdictionID = ""
			}
		}
	})
}

// RemoveDocumentTemplate deletes a checklist template and prunes active
// mappings that pointed at it.
func (s *Service) RemoveDocumentTemplate(templateID string) {
	s.mutate(func(b *tracker.Bundle) {
		kept := b.DocumentTemplates[:0]
		for _, record := range b.DocumentTemplates {
			if record.TemplateID != templateID {
				kept = append(kept, record)
			}
		}
		b.DocumentTemplates = kept
		for permitType, mapped := range b.ActiveDocumentTemplateIDs {
			if mapped == templateID {
				delete(b.ActiveDocumentTemplateIDs, permitType)
			}
		}
	})
}

// ExportJSON writes the live bundle to a standalone JSON file.
func (s *Service) ExportJSON(path string) error {
	return storage.SaveBundleToFile(path, s.SnapshotBundle())
}

// ImportJSON merges a standalone JSON file into the live bundle and reports
// what the merge contributed. The result still has to be persisted.
func (s *Service) ImportJSON(path string) (tracker.MergeStats, error) {
	imported, err := storage.LoadBundleFromFile(path)
	if err != nil {
		return tracker.MergeStats{}, err
	}
	merged, stats := tracker.MergeBundles(s.SnapshotBundle(), imported)
	if stats.Changed {
		s.ApplyBundle(merged, true)
	}
	return stats, nil
}

func removeString(values []string, target string) []string {
	kept := values[:0]
	for _, value := range values {
		if value != target {
			kept = append(kept, value)
		}
	}
	return kept
}
