// Package config defines the configuration structures of the batch-edit
// service.  No I/O or parsing logic lives here; see loader.go.
package config

import (
	"fmt"
	"math"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CORSOrigins lists browser origins allowed to call the API. Empty
	// disables CORS headers.
	CORSOrigins []string `mapstructure:"cors_origins"`
	// RateLimit is the sustained per-client request rate; 0 disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
	// APIKeys, when set, are required in the X-API-Key header of /api/v1.
	APIKeys []string `mapstructure:"api_keys"`
}

// StorageConfig selects the dataset store backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" | "postgres" | "memory"
	// ReferencePath is an optional JSON document with the builtin wet-weight
	// and taxonomy libraries.
	ReferencePath string `mapstructure:"reference_path"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationPath   string        `mapstructure:"migration_path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SQLiteConfig holds the on-device store parameters.
type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// RedisConfig holds Redis connection parameters.  The species-info cache and
// the apply lock fall back to in-process implementations when disabled.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds the event publisher parameters.
type KafkaConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Brokers       []string      `mapstructure:"brokers"`
	GroupID       string        `mapstructure:"group_id"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BatchSize     int           `mapstructure:"batch_size"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	SASLMechanism string        `mapstructure:"sasl_mechanism"` // "" | "PLAIN" | "SCRAM-SHA-256" | "SCRAM-SHA-512"
	SASLUsername  string        `mapstructure:"sasl_username"`
	SASLPassword  string        `mapstructure:"sasl_password"`
	TLSEnabled    bool          `mapstructure:"tls_enabled"`
	TLSCAPath     string        `mapstructure:"tls_ca_path"`
}

// MinIOConfig holds the snapshot archive parameters.
type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// MetricsConfig controls the Prometheus exposition.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level  string   `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format string   `mapstructure:"format"` // "json" | "console"
	Output []string `mapstructure:"output"`
}

// Assistant endpoint providers.
const (
	ProviderOpenAI = "openai" // chat-completions compatible
	ProviderGemini = "gemini"
)

// EndpointConfig describes one external assistant endpoint. For the openai
// provider BaseURL is the full chat-completions URL.
type EndpointConfig struct {
	Name     string `mapstructure:"name"`
	Provider string `mapstructure:"provider"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
}

// Configured reports whether the endpoint can be called.
func (e EndpointConfig) Configured() bool {
	return e.BaseURL != "" && e.Model != ""
}

// AssistantConfig holds the two assistant endpoints and call limits.
type AssistantConfig struct {
	API1          EndpointConfig `mapstructure:"api1"`
	API2          EndpointConfig `mapstructure:"api2"`
	RatePerSecond float64        `mapstructure:"rate_per_second"`
	Burst         int            `mapstructure:"burst"`
	MaxTokens     int            `mapstructure:"max_tokens"`
	InfoMaxTokens int            `mapstructure:"info_max_tokens"`
	Timeout       time.Duration  `mapstructure:"timeout"`
}

// BatchEditConfig holds the resolution and commit behaviour switches.
type BatchEditConfig struct {
	RequireConfirm     bool          `mapstructure:"require_confirm"`
	AutoCorrect        bool          `mapstructure:"auto_correct"`
	DefaultVOrigL      float64       `mapstructure:"default_v_orig_l"`
	AutoMatchWriteToDb bool          `mapstructure:"auto_match_write_to_db"`
	SessionTTL         time.Duration `mapstructure:"session_ttl"`
	MaxSessions        int           `mapstructure:"max_sessions"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	BatchEdit BatchEditConfig `mapstructure:"batch_edit"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config and
// returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("config: sqlite.path is required when storage.driver is sqlite")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("config: database.host is required")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("config: database.user is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("config: database.db_name is required")
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("config: database.max_conns must be ≥ 1, got %d", c.Database.MaxConns)
		}
	case "memory":
	default:
		return fmt.Errorf("config: storage.driver %q is invalid; expected sqlite|postgres|memory", c.Storage.Driver)
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
	}
	if c.MinIO.Enabled {
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("config: minio.endpoint is required")
		}
		if c.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.bucket is required")
		}
	}

	if c.Assistant.RatePerSecond < 0 {
		return fmt.Errorf("config: assistant.rate_per_second must be ≥ 0, got %v", c.Assistant.RatePerSecond)
	}
	for _, ep := range []EndpointConfig{c.Assistant.API1, c.Assistant.API2} {
		switch ep.Provider {
		case "", ProviderOpenAI, ProviderGemini:
		default:
			return fmt.Errorf("config: assistant provider %q of %s is not supported", ep.Provider, ep.Name)
		}
	}
	if c.Assistant.MaxTokens < 1 {
		return fmt.Errorf("config: assistant.max_tokens must be ≥ 1, got %d", c.Assistant.MaxTokens)
	}

	v := c.BatchEdit.DefaultVOrigL
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("config: batch_edit.default_v_orig_l must be a positive number, got %v", v)
	}
	if c.BatchEdit.SessionTTL <= 0 {
		return fmt.Errorf("config: batch_edit.session_ttl must be positive")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}
