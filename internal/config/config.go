package config

import (
	"errors"
	"time"
)

// Config represents the orchestrator service configuration
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Tenant       TenantConfig       `mapstructure:"tenant"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// DatabaseConfig represents the PostgreSQL flow store configuration.
// Leave Host empty to run on the in-memory store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig represents the Redis tenant counter store configuration.
// Leave Host empty to run on the in-memory store.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OrchestratorConfig tunes phase execution, retries, and state handling
type OrchestratorConfig struct {
	MaxPhaseAttempts  int           `mapstructure:"max_phase_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BreakerThreshold  int           `mapstructure:"breaker_threshold"`
	BreakerCoolDown   time.Duration `mapstructure:"breaker_cool_down"`
	MaxStateBytes     int           `mapstructure:"max_state_bytes"`
	CompressThreshold int           `mapstructure:"compress_threshold"`
	SensitiveKeys     []string      `mapstructure:"sensitive_keys"`
	MasterSecret      string        `mapstructure:"master_secret"`
	AuditWorkers      int           `mapstructure:"audit_workers"`
	AuditQueueSize    int           `mapstructure:"audit_queue_size"`
}

// TenantConfig holds the default quota applied to tenants without an
// explicit one. Zero means unlimited for that dimension.
type TenantConfig struct {
	Isolation           string  `mapstructure:"isolation"`
	MaxConcurrentFlows  int     `mapstructure:"max_concurrent_flows"`
	MaxTotalFlowsPerDay int     `mapstructure:"max_total_flows_per_day"`
	MaxStorageMB        float64 `mapstructure:"max_storage_mb"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Host != "" {
		if c.Database.Database == "" {
			return errors.New("database.database is required when database.host is set")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required when database.host is set")
		}
	}
	if c.Orchestrator.MaxPhaseAttempts <= 0 {
		return errors.New("orchestrator.max_phase_attempts must be positive")
	}
	if c.Orchestrator.BackoffMultiplier < 1 {
		return errors.New("orchestrator.backoff_multiplier must be at least 1")
	}
	if c.Orchestrator.MaxStateBytes <= 0 {
		return errors.New("orchestrator.max_state_bytes must be positive")
	}
	if c.Orchestrator.MasterSecret == "" {
		return errors.New("orchestrator.master_secret is required")
	}
	if !isValidIsolation(c.Tenant.Isolation) {
		return errors.New("tenant.isolation must be one of: relaxed, strict")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// isValidIsolation checks if the isolation level is valid
func isValidIsolation(level string) bool {
	switch level {
	case "relaxed", "strict":
		return true
	default:
		return false
	}
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Port:            5432,
			MaxConnections:  20,
			MinConnections:  5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Port: 6379,
		},
		Orchestrator: OrchestratorConfig{
			MaxPhaseAttempts:  3,
			BackoffBase:       500 * time.Millisecond,
			BackoffMultiplier: 2.0,
			BreakerThreshold:  5,
			BreakerCoolDown:   30 * time.Second,
			MaxStateBytes:     10 << 20,
			CompressThreshold: 32 << 10,
			SensitiveKeys:     []string{"credentials", "secrets", "connection_strings"},
			MasterSecret:      "",
			AuditWorkers:      2,
			AuditQueueSize:    1024,
		},
		Tenant: TenantConfig{
			Isolation:           "strict",
			MaxConcurrentFlows:  25,
			MaxTotalFlowsPerDay: 200,
			MaxStorageMB:        512,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
