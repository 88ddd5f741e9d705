package storage

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/permitworks/permittrack/internal/tracker"
)

func TestSQLiteStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalSQLiteStore(dir, zerolog.Nop())
	defer store.Close()

	result := store.LoadBundle()
	if result.Source != SourceEmpty || result.Warning != "" {
		t.Fatalf("fresh database should load empty without warning: %+v", result)
	}

	bundle := testBundle()
	if err := store.SaveBundle(bundle); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	result = store.LoadBundle()
	if result.Source != SourceFile || result.Warning != "" {
		t.Fatalf("expected clean file load: %+v", result)
	}
	if !tracker.PayloadEqual(result.Bundle, bundle) {
		t.Fatalf("loaded bundle differs from saved bundle")
	}

	// Overwrite in place.
	updated := bundle.Clone()
	updated.Contacts = append(updated.Contacts, tracker.ContactRecord{ContactID: "c2", Name: "Brook"})
	updated.Normalize()
	if err := store.SaveBundle(updated); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	result = store.LoadBundle()
	if len(result.Bundle.Contacts) != 2 {
		t.Fatalf("expected 2 contacts after update, got %d", len(result.Bundle.Contacts))
	}
}

func TestSQLiteStoreMigratesLegacyJSONFile(t *testing.T) {
	dir := t.TempDir()
	legacy := NewLocalJSONStore(filepath.Join(dir, dataFileName), zerolog.Nop())
	bundle := testBundle()
	if err := legacy.SaveBundle(bundle); err != nil {
		t.Fatalf("seed legacy file: %v", err)
	}

	store := NewLocalSQLiteStore(dir, zerolog.Nop())
	defer store.Close()

	if !store.HasSavedData() {
		t.Fatalf("legacy file should count as saved data")
	}
	result := store.LoadBundle()
	if !strings.Contains(result.Warning, "migrated") {
		t.Fatalf("migration must be surfaced as a warning, got %q", result.Warning)
	}
	if !tracker.PayloadEqual(result.Bundle, bundle) {
		t.Fatalf("migrated bundle differs from legacy data")
	}

	// The migrated copy is now authoritative; a second load is silent.
	result = store.LoadBundle()
	if result.Warning != "" {
		t.Fatalf("second load should not re-migrate: %q", result.Warning)
	}
}
