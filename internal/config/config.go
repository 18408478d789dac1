// Package config defines station configuration and its loader.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// ClientID identifies this station in broadcast envelopes.
	ClientID string `koanf:"client_id"`
	// SessionID is the session this station joins.
	SessionID string `koanf:"session_id"`
	// CourtCount is used when this station starts a session.
	CourtCount int `koanf:"court_count"`
	// AllowSingleWoman enables the relaxed-mixed fallback for every woman.
	AllowSingleWoman bool `koanf:"allow_single_woman"`

	// StoreDriver is memory, sqlite or firestore.
	StoreDriver              string `koanf:"store_driver"`
	SQLitePath               string `koanf:"sqlite_path"`
	StorePollIntervalMS      int    `koanf:"store_poll_interval_ms"`
	FirestoreProjectID       string `koanf:"firestore_project_id"`
	FirestoreCredentialsFile string `koanf:"firestore_credentials_file"`

	// BusDriver is memory or redis.
	BusDriver     string `koanf:"bus_driver"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// Roster directory; an empty URL disables roster lookups.
	RosterURL       string `koanf:"roster_url"`
	RosterAPIKey    string `koanf:"roster_api_key"`
	RosterTimeoutMS int    `koanf:"roster_timeout_ms"`

	// ReconcileIntervalMS is the period of authoritative reconciliation.
	ReconcileIntervalMS int `koanf:"reconcile_interval_ms"`
	// CommitQueueSize bounds pending durable writes.
	CommitQueueSize int `koanf:"commit_queue_size"`
	// CommitWorkerCount of 1 preserves issuance order.
	CommitWorkerCount int `koanf:"commit_worker_count"`
	// DedupeSize is the number of remembered broadcast event ids.
	DedupeSize int `koanf:"dedupe_size"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		ClientID:            uuid.NewString(),
		SessionID:           "default",
		CourtCount:          4,
		StoreDriver:         "memory",
		SQLitePath:          "cocktime.db",
		StorePollIntervalMS: 1000,
		BusDriver:           "memory",
		RedisAddr:           "localhost:6379",
		RosterTimeoutMS:     5000,
		ReconcileIntervalMS: 15000,
		CommitQueueSize:     1024,
		CommitWorkerCount:   1,
		DedupeSize:          10_000,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.SessionID) == "":
		return fmt.Errorf("%w: session_id must not be empty", ErrInvalidConfig)
	case c.CourtCount < 1:
		return fmt.Errorf("%w: court_count must be at least 1", ErrInvalidConfig)
	case c.CommitQueueSize < 1 || c.CommitWorkerCount < 1 || c.DedupeSize < 1:
		return fmt.Errorf("%w: commit_queue_size, commit_worker_count and dedupe_size must be positive", ErrInvalidConfig)
	}
	switch c.StoreDriver {
	case "memory", "sqlite":
	case "firestore":
		if c.FirestoreProjectID == "" {
			return fmt.Errorf("%w: firestore_project_id is required for the firestore driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	switch c.BusDriver {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown bus_driver %q", ErrInvalidConfig, c.BusDriver)
	}
	return nil
}

// StorePollInterval is the SQLite change-feed period.
func (c *Config) StorePollInterval() time.Duration { return ms(c.StorePollIntervalMS) }

// ReconcileInterval is the reconciliation period.
func (c *Config) ReconcileInterval() time.Duration { return ms(c.ReconcileIntervalMS) }

// RosterTimeout bounds one roster request.
func (c *Config) RosterTimeout() time.Duration { return ms(c.RosterTimeoutMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
