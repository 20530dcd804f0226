// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendGCS    = "gcs"
	BackendLocal  = "local"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Notification backends.
const (
	NotifyNone   = "none"
	NotifyMemory = "memory"
	NotifyPubSub = "pubsub"
	NotifyNATS   = "nats"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Lease    LeaseConfig    `mapstructure:"lease"`
	Database DatabaseConfig `mapstructure:"database"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StorageConfig selects and configures the object store backend. An empty
// backend leaves the store unconfigured; every store operation then fails
// with a storage-unavailable error.
type StorageConfig struct {
	Backend      string       `mapstructure:"backend"`
	Bucket       string       `mapstructure:"bucket"`
	Prefix       string       `mapstructure:"prefix"`
	CacheControl string       `mapstructure:"cache_control"`
	Local        LocalConfig  `mapstructure:"local"`
	Badger       BadgerConfig `mapstructure:"badger"`
}

// LocalConfig configures the filesystem backend.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// BadgerConfig configures the embedded badger backend.
type BadgerConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

// FeedConfig is one RSS or Atom source.
type FeedConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// IngestConfig governs feed pulls.
type IngestConfig struct {
	Feeds             []FeedConfig `mapstructure:"feeds"`
	Schedule          string       `mapstructure:"schedule"`
	UserAgent         string       `mapstructure:"user_agent"`
	TimeoutSeconds    int          `mapstructure:"timeout_seconds"`
	CacheHorizonHours int          `mapstructure:"cache_horizon_hours"`
	PerHostRPS        float64      `mapstructure:"per_host_rps"`
	PerHostBurst      int          `mapstructure:"per_host_burst"`
}

// LeaseConfig configures the single-writer lease. Without a Redis URL the
// deployment must run at most one writer at a time.
type LeaseConfig struct {
	RedisURL   string `mapstructure:"redis_url"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// DatabaseConfig controls the optional Postgres run ledger.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// NotifyConfig selects where invocation outcomes are published.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	NATSURL   string `mapstructure:"nats_url"`
	Subject   string `mapstructure:"subject"`
}

// Load builds a Config from disk/environment. With an empty path it looks
// for config.{yaml,json,toml} in ., /etc/jobstore and $HOME/.jobstore and
// falls back to defaults plus environment when none exists.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/jobstore/")
		v.AddConfigPath("$HOME/.jobstore")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("storage.backend", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.cache_control", "public, max-age=300")
	v.SetDefault("storage.local.base_dir", "./data")
	v.SetDefault("storage.badger.dir", "./data/badger")
	v.SetDefault("storage.badger.in_memory", false)
	v.SetDefault("ingest.schedule", "@every 1h")
	v.SetDefault("ingest.user_agent", "realtime-job-postings/0.1")
	v.SetDefault("ingest.timeout_seconds", 15)
	v.SetDefault("ingest.cache_horizon_hours", 48)
	v.SetDefault("ingest.per_host_rps", 1.0)
	v.SetDefault("ingest.per_host_burst", 1)
	v.SetDefault("lease.redis_url", "")
	v.SetDefault("lease.ttl_seconds", 300)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.migrate", false)
	v.SetDefault("notify.backend", NotifyNone)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.nats_url", "")
	v.SetDefault("notify.subject", "jobstore.events")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "", BackendMemory:
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case BackendBadger:
		if !c.Storage.Badger.InMemory && c.Storage.Badger.Dir == "" {
			return fmt.Errorf("storage.badger.dir must be set unless storage.badger.in_memory is true")
		}
	default:
		return fmt.Errorf("storage.backend must be one of gcs, local, badger, memory, got %q", c.Storage.Backend)
	}
	for i, f := range c.Ingest.Feeds {
		if f.URL == "" {
			return fmt.Errorf("ingest.feeds[%d].url must be set", i)
		}
	}
	if c.Ingest.TimeoutSeconds <= 0 {
		return fmt.Errorf("ingest.timeout_seconds must be > 0")
	}
	if c.Ingest.CacheHorizonHours <= 0 {
		return fmt.Errorf("ingest.cache_horizon_hours must be > 0")
	}
	if c.Lease.TTLSeconds <= 0 {
		return fmt.Errorf("lease.ttl_seconds must be > 0")
	}
	if c.Database.Migrate && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set when database.migrate is true")
	}
	switch c.Notify.Backend {
	case "", NotifyNone, NotifyMemory:
	case NotifyPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set for pubsub")
		}
	case NotifyNATS:
		if c.Notify.NATSURL == "" {
			return fmt.Errorf("notify.nats_url must be set for nats")
		}
	default:
		return fmt.Errorf("notify.backend must be one of none, memory, pubsub, nats, got %q", c.Notify.Backend)
	}
	return nil
}

// IngestTimeout is the per-feed request timeout.
func (c Config) IngestTimeout() time.Duration {
	return time.Duration(c.Ingest.TimeoutSeconds) * time.Second
}

// CacheHorizon is how long scrape-cache entries live.
func (c Config) CacheHorizon() time.Duration {
	return time.Duration(c.Ingest.CacheHorizonHours) * time.Hour
}

// LeaseTTL is how long a writer lease lives without release.
func (c Config) LeaseTTL() time.Duration {
	return time.Duration(c.Lease.TTLSeconds) * time.Second
}
