package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Options selects and configures a backend.
type Options struct {
	Backend       string
	DataDir       string
	PostgresDSN   string
	PostgresTable string
	Logger        zerolog.Logger
}

// Open builds the DataStore described by the options. Unknown backend tokens
// are an error rather than a silent fallback.
func Open(opts Options) (DataStore, error) {
	backend := strings.TrimSpace(strings.ToLower(opts.Backend))
	if backend == "" {
		backend = BackendLocalJSON
	}
	switch backend {
	case BackendLocalJSON:
		return NewLocalJSONStore(filepath.Join(opts.DataDir, dataFileName), opts.Logger), nil
	case BackendLocalSQLite:
		return NewLocalSQLiteStore(opts.DataDir, opts.Logger), nil
	case BackendPostgres:
		return NewRemotePostgresStore(opts.PostgresDSN, opts.PostgresTable, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
