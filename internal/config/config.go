// Package config loads the runtime configuration file.
//
// Everything has a usable default so a config file is optional: a bare
// `coach init` works with no setup. Precedence, lowest to highest:
// built-in defaults, config file, COACH_DB environment variable, the
// --db flag (applied by the CLI layer).
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/coach/internal/guard"
)

// EnvDBPath overrides the database path when set.
const EnvDBPath = "COACH_DB"

// DefaultDBPath is where the store lives unless configured otherwise.
const DefaultDBPath = "./coach.db"

// DefaultConfigPath is the config file location Load falls back to.
const DefaultConfigPath = "./coach.yaml"

// Duration wraps time.Duration so YAML can carry values like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("duration %q must be positive", raw)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the runtime configuration surface. Lock and idempotency
// TTLs are deliberately exposed here rather than buried as constants.
type Config struct {
	// DBPath locates the shared database file.
	DBPath string `yaml:"db_path"`

	// LockTTL bounds how long a crashed process can hold a write lock.
	LockTTL Duration `yaml:"lock_ttl"`

	// IdempotencyTTL bounds how long a cached operation result is
	// replayed for a repeated idempotency key.
	IdempotencyTTL Duration `yaml:"idempotency_ttl"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBPath:         DefaultDBPath,
		LockTTL:        Duration(guard.DefaultLockTTL),
		IdempotencyTTL: Duration(guard.DefaultIdempotencyTTL),
	}
}

// Load reads the config file at path, layering it over the defaults and
// then the COACH_DB environment variable over that. A missing file is
// not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Optional file.
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		// Strict field validation catches typos like "db_paths:".
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if env := os.Getenv(EnvDBPath); env != "" {
		cfg.DBPath = env
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock_ttl must be positive")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("idempotency_ttl must be positive")
	}
	return nil
}

// GuardOptions converts the TTLs into coordinator options.
func (c Config) GuardOptions() []guard.Option {
	return []guard.Option{
		guard.WithLockTTL(time.Duration(c.LockTTL)),
		guard.WithIdempotencyTTL(time.Duration(c.IdempotencyTTL)),
	}
}
