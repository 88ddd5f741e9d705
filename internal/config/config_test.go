package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.Backend != "local_json" {
		t.Fatalf("backend default = %q", cfg.Backend)
	}
	if cfg.DataDir == "" {
		t.Fatalf("data dir default missing")
	}
	if cfg.Realtime.Schema != "public" {
		t.Fatalf("realtime schema default = %q", cfg.Realtime.Schema)
	}
	if cfg.PollInterval != Duration(5*time.Second) {
		t.Fatalf("poll interval default = %v", cfg.PollInterval)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
backend: postgres
data_dir: /var/lib/permittrack
postgres:
  dsn: postgres://localhost/permits
  table: custom_state
realtime:
  url: wss://example/socket
poll_interval: 30s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != "postgres" || cfg.Postgres.DSN != "postgres://localhost/permits" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Postgres.Table != "custom_state" || cfg.Realtime.URL != "wss://example/socket" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.PollInterval != Duration(30*time.Second) {
		t.Fatalf("poll interval = %v", cfg.PollInterval)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backend: local_json\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PERMITTRACK_BACKEND", "local_sqlite")
	t.Setenv("PERMITTRACK_POLL_INTERVAL", "12s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != "local_sqlite" {
		t.Fatalf("env override lost, backend = %q", cfg.Backend)
	}
	if cfg.PollInterval != Duration(12*time.Second) {
		t.Fatalf("env override lost, poll = %v", cfg.PollInterval)
	}
}

func TestInvalidYAMLIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\n  - ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("bad yaml must error")
	}
}
