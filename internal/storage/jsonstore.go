package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/permitworks/permittrack/internal/tracker"
)

// dataFileName is the primary data file inside the data directory, shared
// with the SQLite store's legacy migration path.
const dataFileName = "permittrack_data.json"

// LocalJSONStore persists the bundle as a single pretty-printed JSON file.
// Writes go through a temp file plus rename so a crash never leaves a
// half-written payload, and the previous payload is kept as a .bak sibling
// that loads fall back to when the primary file is unreadable.
type LocalJSONStore struct {
	path string
	log  zerolog.Logger
}

func NewLocalJSONStore(path string, log zerolog.Logger) *LocalJSONStore {
	return &LocalJSONStore{path: path, log: log.With().Str("store", BackendLocalJSON).Logger()}
}

func (s *LocalJSONStore) Backend() string { return BackendLocalJSON }

// Path returns the primary data file path.
func (s *LocalJSONStore) Path() string { return s.path }

func (s *LocalJSONStore) backupPath() string { return s.path + ".bak" }

func (s *LocalJSONStore) HasSavedData() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

func (s *LocalJSONStore) LoadBundle() LoadResult {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return emptyResult("")
	}
	if err != nil {
		return s.loadBackup(fmt.Sprintf("could not read %s: %v", s.path, err))
	}
	bundle, repaired, parseErr := ParsePayload(raw)
	if parseErr != nil {
		return s.loadBackup(fmt.Sprintf("could not parse %s: %v", s.path, parseErr))
	}
	warning := ""
	if repaired {
		warning = "saved data needed repair; some fields were normalized"
	}
	if err := ValidatePayload(raw); err != nil {
		s.log.Warn().Err(err).Msg("payload failed schema validation")
		if warning == "" {
			warning = err.Error()
		}
	}
	return LoadResult{Bundle: bundle, Source: SourceFile, Warning: warning}
}

// loadBackup attempts the .bak sibling after the primary file failed. The
// original failure is always reported in the warning, even on success.
func (s *LocalJSONStore) loadBackup(reason string) LoadResult {
	raw, err := os.ReadFile(s.backupPath())
	if err != nil {
		return emptyResult(reason)
	}
	bundle, _, parseErr := ParsePayload(raw)
	if parseErr != nil {
		return emptyResult(reason)
	}
	s.log.Warn().Str("backup", s.backupPath()).Msg("recovered bundle from backup file")
	return LoadResult{
		Bundle:  bundle,
		Source:  SourceFile,
		Warning: reason + "; recovered previous data from backup",
	}
}

func (s *LocalJSONStore) SaveBundle(bundle *tracker.Bundle) error {
	payload, err := BuildPayload(bundle, BackendLocalJSON)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if s.HasSavedData() {
		if err := copyFile(s.path, s.backupPath()); err != nil {
			s.log.Warn().Err(err).Msg("could not refresh backup file")
		}
	}
	if err := writeFileAtomic(s.path, payload); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// LoadBundleFromFile reads a bundle from an arbitrary JSON file, for imports.
func LoadBundleFromFile(path string) (*tracker.Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	bundle, _, err := ParsePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return bundle, nil
}

// SaveBundleToFile writes a bundle to an arbitrary JSON file, for exports.
func SaveBundleToFile(path string, bundle *tracker.Bundle) error {
	payload, err := BuildPayload(bundle, BackendLocalJSON)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return writeFileAtomic(path, payload)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return writeFileAtomic(dst, data)
}
