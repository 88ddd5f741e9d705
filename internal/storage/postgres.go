package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/permitworks/permittrack/internal/tracker"
)

const (
	postgresDefaultTableName = "permittrack_state"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// RemotePostgresStore keeps the bundle in a single shared row guarded by a
// monotonically increasing revision. Saves are compare-and-swap on the
// revision the client last observed; a lost race surfaces as ConflictError
// so the caller can reload, merge, and retry.
type RemotePostgresStore struct {
	dsn       string
	tableName string
	clientID  string
	log       zerolog.Logger
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB

	knownRevision atomic.Int64
}

func NewRemotePostgresStore(dsn, tableName string, log zerolog.Logger) (*RemotePostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(tableName) == "" {
		tableName = postgresDefaultTableName
	}
	return &RemotePostgresStore{
		dsn:       dsn,
		tableName: tableName,
		clientID:  newClientID(),
		log:       log.With().Str("store", BackendPostgres).Logger(),
		openDB:    sql.Open,
	}, nil
}

func (s *RemotePostgresStore) Backend() string { return BackendPostgres }

// TableName reports the state table the store reads and writes, for wiring
// realtime change subscriptions to the same table.
func (s *RemotePostgresStore) TableName() string { return s.tableName }

// KnownRevision is the last revision this client observed; 0 before the
// first load.
func (s *RemotePostgresStore) KnownRevision() int64 { return s.knownRevision.Load() }

func (s *RemotePostgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				app_id TEXT PRIMARY KEY,
				revision BIGINT NOT NULL DEFAULT 1,
				schema_version INTEGER NOT NULL,
				payload_json TEXT NOT NULL,
				saved_at_utc TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				saved_by TEXT NOT NULL DEFAULT ''
			)`, quoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *RemotePostgresStore) HasSavedData() bool {
	if err := s.ensureReady(); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT 1 FROM %s WHERE app_id = $1", quoteIdentifier(s.tableName))
	var one int
	err := s.db.QueryRowContext(ctx, query, appID).Scan(&one)
	return err == nil
}

func (s *RemotePostgresStore) LoadBundle() LoadResult {
	if err := s.ensureReady(); err != nil {
		return emptyResult(fmt.Sprintf("could not connect to postgres: %v", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT revision, payload_json FROM %s WHERE app_id = $1",
		quoteIdentifier(s.tableName))
	var revision int64
	var payload string
	err := s.db.QueryRowContext(ctx, query, appID).Scan(&revision, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		s.knownRevision.Store(0)
		return emptyResult("")
	}
	if err != nil {
		return emptyResult(fmt.Sprintf("could not read shared data: %v", err))
	}
	bundle, repaired, parseErr := ParsePayload([]byte(payload))
	if parseErr != nil {
		return emptyResult(fmt.Sprintf("could not parse shared data at revision %d: %v", revision, parseErr))
	}
	s.knownRevision.Store(revision)
	warning := ""
	if repaired {
		warning = "shared data needed repair; some fields were normalized"
	}
	if err := ValidatePayload([]byte(payload)); err != nil {
		s.log.Warn().Err(err).Int64("revision", revision).Msg("payload failed schema validation")
		if warning == "" {
			warning = err.Error()
		}
	}
	return LoadResult{Bundle: bundle, Source: SourceFile, Warning: warning}
}

func (s *RemotePostgresStore) SaveBundle(bundle *tracker.Bundle) error {
	if err := s.ensureReady(); err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	payload, err := tracker.EncodePayload(bundle)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	expected := s.knownRevision.Load()
	if expected <= 0 {
		inserted, err := s.insertFirstRevision(string(payload))
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}
		// Another client inserted the first row; fall through to a guarded
		// update against the revision we just learned.
		expected = s.knownRevision.Load()
	}
	return s.updateGuarded(string(payload), expected)
}

func (s *RemotePostgresStore) insertFirstRevision(payload string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (app_id, revision, schema_version, payload_json, saved_at_utc, saved_by)
		VALUES ($1, 1, $2, $3, NOW(), $4)`, quoteIdentifier(s.tableName))
	_, err := s.db.ExecContext(ctx, query, appID, schemaVersion, payload, s.clientID)
	if err == nil {
		s.knownRevision.Store(1)
		return true, nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		revision, exists, fetchErr := s.FetchRemoteRevision(ctx)
		if fetchErr != nil {
			return false, fetchErr
		}
		if exists {
			s.knownRevision.Store(revision)
		}
		return false, nil
	}
	return false, fmt.Errorf("insert shared data: %w", err)
}

func (s *RemotePostgresStore) updateGuarded(payload string, expected int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET revision = $1, schema_version = $2, payload_json = $3, saved_at_utc = NOW(), saved_by = $4
		WHERE app_id = $5 AND revision = $6`, quoteIdentifier(s.tableName))
	result, err := s.db.ExecContext(ctx, query,
		expected+1, schemaVersion, payload, s.clientID, appID, expected)
	if err != nil {
		return fmt.Errorf("update shared data: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update shared data: %w", err)
	}
	if affected == 0 {
		if revision, exists, fetchErr := s.FetchRemoteRevision(ctx); fetchErr == nil && exists {
			s.knownRevision.Store(revision)
		}
		return &ConflictError{ExpectedRevision: expected}
	}
	s.knownRevision.Store(expected + 1)
	return nil
}

// FetchRemoteRevision reads the current revision without transferring the
// payload. The boolean is false when no row exists yet.
func (s *RemotePostgresStore) FetchRemoteRevision(ctx context.Context) (int64, bool, error) {
	if err := s.ensureReady(); err != nil {
		return 0, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT revision FROM %s WHERE app_id = $1", quoteIdentifier(s.tableName))
	var revision int64
	err := s.db.QueryRowContext(ctx, query, appID).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return revision, true, nil
}

func (s *RemotePostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func newClientID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "desktop-unknown"
	}
	return "desktop-" + hex.EncodeToString(buf)
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
