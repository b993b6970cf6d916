// Package config provides configuration loading for dispatchd.
//
// Configuration is read from a YAML file, overridden by environment
// variables, then completed with defaults and validated.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete dispatchd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	History       HistoryConfig       `koanf:"history"`
	Events        EventsConfig        `koanf:"events"`
	Executor      ExecutorConfig      `koanf:"executor"`
	Catalog       CatalogConfig       `koanf:"catalog"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	OTLPEndpoint    string  `koanf:"otlp_endpoint"`
	OTLPProtocol    string  `koanf:"otlp_protocol"` // "grpc" or "http/protobuf"
	OTLPInsecure    bool    `koanf:"otlp_insecure"`
	SamplingRate    float64 `koanf:"sampling_rate"`
}

// LoggingConfig holds the file-level logging knobs.
type LoggingConfig struct {
	Level           string `koanf:"level"`
	Format          string `koanf:"format"`
	OTEL            bool   `koanf:"otel"`
	DisableSampling bool   `koanf:"disable_sampling"`
}

// History backends.
const (
	HistoryBackendMemory = "memory"
	HistoryBackendRedis  = "redis"
)

// HistoryConfig selects where learning history is kept.
type HistoryConfig struct {
	Backend       string `koanf:"backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword Secret `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	KeyPrefix     string `koanf:"key_prefix"`
}

// EventsConfig controls decision/outcome publication to NATS.
type EventsConfig struct {
	Enabled       bool     `koanf:"enabled"`
	NATSURL       string   `koanf:"nats_url"`
	Token         Secret   `koanf:"token"`
	SubjectPrefix string   `koanf:"subject_prefix"`
	FlushTimeout  Duration `koanf:"flush_timeout"`
}

// ExecutorConfig configures the operation executor.
type ExecutorConfig struct {
	MaxRetries       int      `koanf:"max_retries"`
	RetryDelay       Duration `koanf:"retry_delay"`
	DisableLearning  bool     `koanf:"disable_learning"`
	DisableRedaction bool     `koanf:"disable_redaction"`
	EnforcementLevel string   `koanf:"enforcement_level"`
	CostCap          int64    `koanf:"cost_cap"`
	OpsPerSecond     float64  `koanf:"ops_per_second"`
	HistoryLimit     int      `koanf:"history_limit"`

	// RedactionAllowlist holds regexes for values that look like
	// credentials but are safe to keep, such as documented test keys.
	RedactionAllowlist []string `koanf:"redaction_allowlist"`
}

// CatalogConfig locates the agent catalog.
type CatalogConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9400
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "dispatchd"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Observability.OTLPProtocol == "" {
		cfg.Observability.OTLPProtocol = "grpc"
	}
	if cfg.Observability.SamplingRate == 0 {
		cfg.Observability.SamplingRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.History.Backend == "" {
		cfg.History.Backend = HistoryBackendMemory
	}
	if cfg.History.KeyPrefix == "" {
		cfg.History.KeyPrefix = "dispatch:history:"
	}

	if cfg.Events.NATSURL == "" {
		cfg.Events.NATSURL = "nats://127.0.0.1:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "dispatch"
	}
	if cfg.Events.FlushTimeout == 0 {
		cfg.Events.FlushTimeout = Duration(2 * time.Second)
	}

	if cfg.Executor.MaxRetries == 0 {
		cfg.Executor.MaxRetries = 3
	}
	if cfg.Executor.RetryDelay == 0 {
		cfg.Executor.RetryDelay = Duration(time.Second)
	}
	if cfg.Executor.EnforcementLevel == "" {
		cfg.Executor.EnforcementLevel = "strict"
	}
	if cfg.Executor.CostCap == 0 {
		cfg.Executor.CostCap = 10000
	}
	if cfg.Executor.HistoryLimit == 0 {
		cfg.Executor.HistoryLimit = 1000
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		switch c.Observability.OTLPProtocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("otlp_protocol must be grpc or http/protobuf, got %q", c.Observability.OTLPProtocol)
		}
		if c.Observability.SamplingRate < 0 || c.Observability.SamplingRate > 1 {
			return fmt.Errorf("sampling_rate must be between 0 and 1, got %v", c.Observability.SamplingRate)
		}
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be json or console, got %q", c.Logging.Format)
	}

	switch c.History.Backend {
	case HistoryBackendMemory:
	case HistoryBackendRedis:
		if c.History.RedisAddr == "" {
			return errors.New("history.redis_addr required for redis backend")
		}
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}

	if c.Events.Enabled && c.Events.NATSURL == "" {
		return errors.New("events.nats_url required when events are enabled")
	}

	if c.Executor.MaxRetries < 1 {
		return fmt.Errorf("executor.max_retries must be >= 1, got %d", c.Executor.MaxRetries)
	}
	switch c.Executor.EnforcementLevel {
	case "strict", "moderate", "lenient":
	default:
		return fmt.Errorf("unknown executor.enforcement_level %q", c.Executor.EnforcementLevel)
	}
	if c.Executor.CostCap < 0 {
		return fmt.Errorf("executor.cost_cap must be >= 0, got %d", c.Executor.CostCap)
	}
	if c.Executor.OpsPerSecond < 0 {
		return fmt.Errorf("executor.ops_per_second must be >= 0, got %v", c.Executor.OpsPerSecond)
	}

	if c.Catalog.Watch && c.Catalog.Path == "" {
		return errors.New("catalog.watch requires catalog.path")
	}

	return nil
}
