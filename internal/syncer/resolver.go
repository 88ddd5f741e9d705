// Package syncer keeps a locally edited bundle consistent with a shared
// backend: it resolves revision conflicts on save and watches the backend
// for changes made by other devices.
package syncer

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/permitworks/permittrack/internal/storage"
	"github.com/permitworks/permittrack/internal/tracker"
)

// Save strategies, reported in SaveOutcome for logging and UI notices.
const (
	StrategyDirect               = "direct"
	StrategyRemoteAlreadyApplied = "remote_already_applied"
	StrategyRemotePreserved      = "remote_preserved"
	StrategyMergeThenSave        = "merge_then_save"
)

const defaultMaxAttempts = 3

// SaveOutcome reports how a save landed. Bundle is the state the backend
// holds afterwards, which may differ from the bundle the caller passed in
// when a conflict was resolved by merging. Attempts counts resolution
// attempts; a direct save reports 1.
type SaveOutcome struct {
	Bundle   *tracker.Bundle
	Strategy string
	Attempts int
	Stats    tracker.MergeStats
}

// Resolver wraps a DataStore's SaveBundle with conflict resolution: on a
// revision conflict it reloads the remote state, folds the local changes in,
// and retries with the merged bundle.
type Resolver struct {
	store       storage.DataStore
	log         zerolog.Logger
	maxAttempts int
}

func NewResolver(store storage.DataStore, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:       store,
		log:         log.With().Str("component", "resolver").Logger(),
		maxAttempts: defaultMaxAttempts,
	}
}

// Save persists the bundle, resolving revision conflicts along the way.
// Non-conflict save errors abort immediately.
func (r *Resolver) Save(bundle *tracker.Bundle) (SaveOutcome, error) {
	err := r.store.SaveBundle(bundle)
	if err == nil {
		return SaveOutcome{Bundle: bundle, Strategy: StrategyDirect, Attempts: 1}, nil
	}
	if !errors.Is(err, storage.ErrRevisionConflict) {
		return SaveOutcome{Attempts: 1}, err
	}
	r.log.Warn().Msg("revision conflict, resolving against remote state")
	return r.resolve(bundle)
}

// resolve retries a conflicted save. Each attempt reloads the remote state
// and folds the caller's original bundle into it; the previous attempt's
// merge never feeds the next one, so entities deleted remotely between
// reloads are not resurrected.
func (r *Resolver) resolve(local *tracker.Bundle) (SaveOutcome, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		result := r.store.LoadBundle()
		if result.Source == storage.SourceEmpty && result.Warning != "" {
			return SaveOutcome{Attempts: attempt},
				fmt.Errorf("conflict resolution aborted, remote state unreadable: %s", result.Warning)
		}
		remote := result.Bundle

		if tracker.PayloadEqual(remote, local) {
			r.log.Info().Int("attempt", attempt).Msg("remote state already matches local state")
			return SaveOutcome{
				Bundle:   remote,
				Strategy: StrategyRemoteAlreadyApplied,
				Attempts: attempt,
			}, nil
		}

		merged, stats := tracker.MergeBundles(remote, local)
		if tracker.PayloadEqual(merged, remote) {
			r.log.Info().Int("attempt", attempt).Msg("remote state already contains local changes")
			return SaveOutcome{
				Bundle:   remote,
				Strategy: StrategyRemotePreserved,
				Attempts: attempt,
				Stats:    stats,
			}, nil
		}

		err := r.store.SaveBundle(merged)
		if err == nil {
			r.log.Info().
				Int("attempt", attempt).
				Int("contacts_added", stats.ContactsAdded).
				Int("properties_added", stats.PropertiesAdded).
				Int("permits_added", stats.PermitsAdded).
				Msg("merged local changes into remote state")
			return SaveOutcome{
				Bundle:   merged,
				Strategy: StrategyMergeThenSave,
				Attempts: attempt,
				Stats:    stats,
			}, nil
		}
		if !errors.Is(err, storage.ErrRevisionConflict) {
			return SaveOutcome{Attempts: attempt}, err
		}
		r.log.Warn().Int("attempt", attempt).Msg("merged save conflicted again, reloading remote state")
	}
	return SaveOutcome{Attempts: r.maxAttempts},
		fmt.Errorf("save failed after %d conflict resolution attempts", r.maxAttempts)
}
