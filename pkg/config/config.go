// Package config loads notesync settings with priority environment > file >
// defaults and validates the result.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Remote backends.
const (
	BackendSurrealDB = "surrealdb"
	BackendMemory    = "memory"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NOTESYNC_"

// Config is the complete notesync configuration.
type Config struct {
	// Owner is the signed-in user. Authentication happens elsewhere; the
	// session only needs the resulting user ID.
	Owner string `yaml:"owner" validate:"required,uuid"`

	Cache  CacheConfig  `yaml:"cache"`
	Remote RemoteConfig `yaml:"remote"`
	Sync   SyncConfig   `yaml:"sync"`
	Log    LogConfig    `yaml:"log"`
}

// CacheConfig configures the on-device cache.
type CacheConfig struct {
	Path       string        `yaml:"path" validate:"required_without=InMemory"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// RemoteConfig selects and configures the remote document store.
type RemoteConfig struct {
	Backend   string `yaml:"backend" validate:"oneof=surrealdb memory"`
	URL       string `yaml:"url" validate:"required_if=Backend surrealdb"`
	Namespace string `yaml:"namespace" validate:"required_if=Backend surrealdb"`
	Database  string `yaml:"database" validate:"required_if=Backend surrealdb"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password" validate:"required_with=Username"`

	// Offline starts the session with the remote switched off; every
	// write goes to the replay queue.
	Offline bool `yaml:"offline"`
}

// SyncConfig tunes remote writes and queue replay.
type SyncConfig struct {
	RemoteTimeout   time.Duration `yaml:"remote_timeout" validate:"gt=0"`
	RetryInitial    time.Duration `yaml:"retry_initial" validate:"gte=0"`
	RetryMax        time.Duration `yaml:"retry_max" validate:"gtefield=RetryInitial"`
	RetryMultiplier float64       `yaml:"retry_multiplier" validate:"gte=1"`
	RetryJitter     float64       `yaml:"retry_jitter" validate:"gte=0,lte=1"`

	// MaxRetries bounds timed retries between reachability signals. Zero
	// retries forever.
	MaxRetries int `yaml:"max_retries" validate:"gte=0"`
}

// LogConfig configures the zerolog backend.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Path writes logs to a file instead of stderr.
	Path string `yaml:"path"`
}

// Default returns the defaults every loaded config starts from.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Path:       defaultCachePath(),
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Remote: RemoteConfig{
			Backend:   BackendSurrealDB,
			URL:       "ws://localhost:8000/rpc",
			Namespace: "notesync",
			Database:  "notesync",
		},
		Sync: SyncConfig{
			RemoteTimeout:   10 * time.Second,
			RetryInitial:    time.Second,
			RetryMax:        30 * time.Second,
			RetryMultiplier: 2,
			RetryJitter:     0.3,
		},
		Log: LogConfig{Level: "info"},
	}
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".notesync"
	}
	return dir + string(os.PathSeparator) + "notesync"
}

// Load reads path when it is set and exists, applies NOTESYNC_* overrides
// and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return cfg, fmt.Errorf("load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	// An empty file decodes to io.EOF and keeps the defaults.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays NOTESYNC_* variables onto cfg.
func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v := getenv(EnvPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getenv(EnvPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	number := func(key string, dst *float64) {
		if v := getenv(EnvPrefix + key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}

	str("OWNER", &cfg.Owner)

	str("CACHE_PATH", &cfg.Cache.Path)
	boolean("CACHE_IN_MEMORY", &cfg.Cache.InMemory)
	boolean("CACHE_SYNC_WRITES", &cfg.Cache.SyncWrites)
	duration("CACHE_GC_INTERVAL", &cfg.Cache.GCInterval)

	str("REMOTE_BACKEND", &cfg.Remote.Backend)
	str("SURREALDB_URL", &cfg.Remote.URL)
	str("SURREALDB_NS", &cfg.Remote.Namespace)
	str("SURREALDB_DB", &cfg.Remote.Database)
	str("SURREALDB_USER", &cfg.Remote.Username)
	str("SURREALDB_PASS", &cfg.Remote.Password)
	boolean("OFFLINE", &cfg.Remote.Offline)

	duration("REMOTE_TIMEOUT", &cfg.Sync.RemoteTimeout)
	duration("RETRY_INITIAL", &cfg.Sync.RetryInitial)
	duration("RETRY_MAX", &cfg.Sync.RetryMax)
	number("RETRY_MULTIPLIER", &cfg.Sync.RetryMultiplier)
	number("RETRY_JITTER", &cfg.Sync.RetryJitter)
	integer("MAX_RETRIES", &cfg.Sync.MaxRetries)

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_PATH", &cfg.Log.Path)

	return errors.Join(errs...)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint.
func (c *Config) Validate() error {
	c.Log.Level = strings.ToLower(c.Log.Level)
	return validate.Struct(c)
}
