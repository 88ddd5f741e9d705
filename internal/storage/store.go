// Package storage provides the load/save contract over the tracker's data
// stores: a local JSON file, a local SQLite database, and a remote Postgres
// table shared between devices. The remote store exposes a monotonic
// revision used for optimistic concurrency control; every other recoverable
// problem surfaces as a load warning, never an error.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/permitworks/permittrack/internal/tracker"
)

// Backend tokens, persisted inside the payload envelope for debugging.
const (
	BackendLocalJSON   = "local_json"
	BackendLocalSQLite = "local_sqlite"
	BackendPostgres    = "postgres"
)

// Load sources. Recovered-from-backup loads still report SourceFile; the
// recovery itself arrives as a warning.
const (
	SourceFile  = "file"
	SourceEmpty = "empty"
)

var (
	ErrRevisionConflict = errors.New("revision conflict")
	ErrNotConfigured    = errors.New("storage backend is not configured")
)

// ConflictError reports that a conflict-safe save lost a revision race: the
// backend no longer holds the revision the caller last observed.
type ConflictError struct {
	ExpectedRevision int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict: state changed on another client (expected revision %d)", e.ExpectedRevision)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrRevisionConflict
}

// LoadResult is the outcome of a bundle load. Bundle is never nil; parse
// failures yield an empty bundle plus a human-readable warning.
type LoadResult struct {
	Bundle  *tracker.Bundle
	Source  string
	Warning string
}

// DataStore is the uniform persistence contract. LoadBundle never fails for
// recoverable parse problems; SaveBundle returns explicit errors, including
// ConflictError from revisioned backends.
type DataStore interface {
	Backend() string
	HasSavedData() bool
	LoadBundle() LoadResult
	SaveBundle(bundle *tracker.Bundle) error
}

// RemoteStore is a DataStore backed by a shared backend other devices may
// mutate concurrently.
type RemoteStore interface {
	DataStore

	// KnownRevision is the last revision this client observed; 0 before the
	// first load.
	KnownRevision() int64

	// FetchRemoteRevision reads the backend's current revision without
	// transferring the payload. The boolean is false when no row exists yet.
	FetchRemoteRevision(ctx context.Context) (int64, bool, error)
}

func emptyResult(warning string) LoadResult {
	return LoadResult{Bundle: tracker.NewBundle(), Source: SourceEmpty, Warning: warning}
}
