package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/permitworks/permittrack/internal/tracker"
)

const (
	sqliteDatabaseFileName = "permittrack.sqlite3"
	sqliteOperationTimeout = 5 * time.Second
)

// LocalSQLiteStore persists the bundle in a single-row app_state table inside
// a SQLite database under the data directory. When the database does not
// exist yet but a legacy JSON file does, the first load migrates the legacy
// data and reports the migration as a warning.
type LocalSQLiteStore struct {
	dbPath     string
	legacyJSON string
	log        zerolog.Logger

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewLocalSQLiteStore(dataDir string, log zerolog.Logger) *LocalSQLiteStore {
	return &LocalSQLiteStore{
		dbPath:     filepath.Join(dataDir, sqliteDatabaseFileName),
		legacyJSON: filepath.Join(dataDir, dataFileName),
		log:        log.With().Str("store", BackendLocalSQLite).Logger(),
	}
}

func (s *LocalSQLiteStore) Backend() string { return BackendLocalSQLite }

// Path returns the database file path.
func (s *LocalSQLiteStore) Path() string { return s.dbPath }

func (s *LocalSQLiteStore) HasSavedData() bool {
	if info, err := os.Stat(s.dbPath); err == nil && !info.IsDir() {
		return true
	}
	info, err := os.Stat(s.legacyJSON)
	return err == nil && !info.IsDir()
}

func (s *LocalSQLiteStore) ensureReady() error {
	s.initOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
			s.initErr = err
			return
		}
		db, err := sql.Open("sqlite3", s.dbPath)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
		defer cancel()

		const query = `
			CREATE TABLE IF NOT EXISTS app_state (
				app_id TEXT PRIMARY KEY,
				schema_version INTEGER NOT NULL,
				backend TEXT NOT NULL,
				saved_at_utc TEXT NOT NULL,
				payload_json TEXT NOT NULL
			)`
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *LocalSQLiteStore) LoadBundle() LoadResult {
	if err := s.ensureReady(); err != nil {
		return emptyResult(fmt.Sprintf("could not open %s: %v", s.dbPath, err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()

	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload_json FROM app_state WHERE app_id = ?", appID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return s.migrateLegacyJSON()
	}
	if err != nil {
		return emptyResult(fmt.Sprintf("could not read %s: %v", s.dbPath, err))
	}
	bundle, repaired, parseErr := ParsePayload([]byte(payload))
	if parseErr != nil {
		return emptyResult(fmt.Sprintf("could not parse saved data in %s: %v", s.dbPath, parseErr))
	}
	warning := ""
	if repaired {
		warning = "saved data needed repair; some fields were normalized"
	}
	if err := ValidatePayload([]byte(payload)); err != nil {
		s.log.Warn().Err(err).Msg("payload failed schema validation")
		if warning == "" {
			warning = err.Error()
		}
	}
	return LoadResult{Bundle: bundle, Source: SourceFile, Warning: warning}
}

// migrateLegacyJSON imports the old JSON data file into the database the
// first time the database comes up empty. The JSON file is left in place.
func (s *LocalSQLiteStore) migrateLegacyJSON() LoadResult {
	raw, err := os.ReadFile(s.legacyJSON)
	if os.IsNotExist(err) {
		return emptyResult("")
	}
	if err != nil {
		return emptyResult(fmt.Sprintf("could not read legacy data file %s: %v", s.legacyJSON, err))
	}
	bundle, _, parseErr := ParsePayload(raw)
	if parseErr != nil {
		return emptyResult(fmt.Sprintf("could not parse legacy data file %s: %v", s.legacyJSON, parseErr))
	}
	if err := s.SaveBundle(bundle); err != nil {
		s.log.Warn().Err(err).Msg("could not persist migrated legacy data")
	}
	s.log.Info().Str("from", s.legacyJSON).Msg("migrated legacy JSON data into sqlite")
	return LoadResult{
		Bundle:  bundle,
		Source:  SourceFile,
		Warning: "migrated data from legacy JSON file " + s.legacyJSON,
	}
}

func (s *LocalSQLiteStore) SaveBundle(bundle *tracker.Bundle) error {
	if err := s.ensureReady(); err != nil {
		return fmt.Errorf("open %s: %w", s.dbPath, err)
	}
	payload, err := tracker.EncodePayload(bundle)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()

	const query = `
		INSERT INTO app_state (app_id, schema_version, backend, saved_at_utc, payload_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (app_id)
		DO UPDATE SET
			schema_version = excluded.schema_version,
			backend = excluded.backend,
			saved_at_utc = excluded.saved_at_utc,
			payload_json = excluded.payload_json`
	_, err = s.db.ExecContext(ctx, query,
		appID, schemaVersion, BackendLocalSQLite,
		time.Now().UTC().Format(time.RFC3339), string(payload))
	if err != nil {
		return fmt.Errorf("write %s: %w", s.dbPath, err)
	}
	return nil
}

func (s *LocalSQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
