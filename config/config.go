package config

import (
	"fmt"
	"time"

	"github.com/pitabwire/frame/config"

	"github.com/voicetyped/campaignflow/pkg/urlvalidation"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"
)

// WebhookConfig holds outbound webhook delivery settings shared by the
// monolith and the integration service.
type WebhookConfig struct {
	WebhookWorkers    int `envDefault:"16"  env:"WEBHOOK_WORKERS"`
	WebhookMaxRetries int `envDefault:"5"   env:"WEBHOOK_MAX_RETRIES"`
	WebhookTimeoutSec int `envDefault:"10"  env:"WEBHOOK_TIMEOUT_SEC"`
	WebhookBackoffSec int `envDefault:"1"   env:"WEBHOOK_BACKOFF_INITIAL_SEC"`
	WebhookBackoffMax int `envDefault:"300" env:"WEBHOOK_BACKOFF_MAX_SEC"`
	CBFailThreshold   int `envDefault:"5"   env:"CB_FAILURE_THRESHOLD"`
	CBResetTimeoutSec int `envDefault:"60"  env:"CB_RESET_TIMEOUT_SEC"`

	WebhookAllowedHosts []string `envDefault:""      env:"WEBHOOK_ALLOWED_HOSTS" envSeparator:","`
	WebhookRequireHTTPS bool     `envDefault:"false" env:"WEBHOOK_REQUIRE_HTTPS"`
}

// URLValidation returns the SSRF options for webhook targets.
func (c WebhookConfig) URLValidation() []urlvalidation.Option {
	opts := []urlvalidation.Option{urlvalidation.AllowHosts(c.WebhookAllowedHosts...)}
	if c.WebhookRequireHTTPS {
		opts = append(opts, urlvalidation.RequireHTTPS())
	}
	return opts
}

// IntegrationConfig holds configuration for the integration service.
type IntegrationConfig struct {
	config.ConfigurationDefault
	WebhookConfig

	TransitionTablePath string `envDefault:"" env:"TRANSITION_TABLE_PATH"`
	EventSource         string `envDefault:"campaignflow-integration" env:"EVENT_SOURCE"`
}

// ServiceConfig holds configuration for the lifecycle service.
type ServiceConfig struct {
	config.ConfigurationDefault
	WebhookConfig

	// Lifecycle
	TransitionTablePath string `envDefault:""          env:"TRANSITION_TABLE_PATH"`
	StorageDriver       string `envDefault:"postgres"  env:"STORAGE_DRIVER"`
	SQLitePath          string `envDefault:"./campaignflow.db" env:"SQLITE_PATH"`

	// Script sessions
	ScriptDir        string `envDefault:"./scripts" env:"SCRIPT_DIR"`
	ScriptHotReload  bool   `envDefault:"true"      env:"SCRIPT_HOT_RELOAD"`
	RedisURL         string `envDefault:""          env:"REDIS_URL"`
	SessionTTLMin    int    `envDefault:"30"        env:"SESSION_TTL_MIN"`
	SnapshotTTLHours int    `envDefault:"24"        env:"SNAPSHOT_TTL_HOURS"`

	// Relay
	EventSource     string `envDefault:"campaignflow" env:"EVENT_SOURCE"`
	DeliverWebhooks bool   `envDefault:"true"         env:"DELIVER_WEBHOOKS"`
}

// Validate checks settings that cannot be expressed as env defaults.
func (c *ServiceConfig) Validate() error {
	switch c.StorageDriver {
	case StoragePostgres, StorageMemory:
	case StorageSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite storage driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.SessionTTLMin <= 0 {
		return fmt.Errorf("SESSION_TTL_MIN must be positive")
	}
	return nil
}

// SessionTTL is the idle time after which an active script session is
// evicted.
func (c *ServiceConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMin) * time.Minute
}

// SnapshotTTL is how long a stored checkpoint survives in redis.
func (c *ServiceConfig) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLHours) * time.Hour
}
