// Package config loads tracker settings from an optional YAML file with
// PERMITTRACK_* environment overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full runtime configuration. Zero values fall back to
// defaults applied by Load.
type Config struct {
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir"`

	Postgres struct {
		DSN   string `yaml:"dsn"`
		Table string `yaml:"table"`
	} `yaml:"postgres"`

	Realtime struct {
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key"`
		Schema string `yaml:"schema"`
		Table  string `yaml:"table"`
	} `yaml:"realtime"`

	PollInterval Duration `yaml:"poll_interval"`
}

// Load reads the config file when it exists, then applies environment
// overrides and defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Backend, "PERMITTRACK_BACKEND")
	setString(&c.DataDir, "PERMITTRACK_DATA_DIR")
	setString(&c.Postgres.DSN, "PERMITTRACK_POSTGRES_DSN")
	setString(&c.Postgres.Table, "PERMITTRACK_POSTGRES_TABLE")
	setString(&c.Realtime.URL, "PERMITTRACK_REALTIME_URL")
	setString(&c.Realtime.APIKey, "PERMITTRACK_REALTIME_API_KEY")
	setString(&c.Realtime.Schema, "PERMITTRACK_REALTIME_SCHEMA")
	setString(&c.Realtime.Table, "PERMITTRACK_REALTIME_TABLE")
	if raw := strings.TrimSpace(os.Getenv("PERMITTRACK_POLL_INTERVAL")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			c.PollInterval = Duration(parsed)
		}
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Backend) == "" {
		c.Backend = "local_json"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir()
	}
	if strings.TrimSpace(c.Realtime.Schema) == "" {
		c.Realtime.Schema = "public"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = Duration(5 * time.Second)
	}
}

// DefaultPath is the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "permittrack.yaml"
	}
	return filepath.Join(home, ".config", "permittrack", "config.yaml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "permittrack")
}

func setString(dst *string, name string) {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		*dst = value
	}
}
