package config

import (
	"time"

	"github.com/spf13/viper"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerPort            = 8080
	DefaultServerMode            = "release"
	DefaultServerReadTimeout     = 30 * time.Second
	DefaultServerWriteTimeout    = 60 * time.Second
	DefaultServerMaxBodySize     = 1 << 20
	DefaultServerShutdownTimeout = 15 * time.Second
	DefaultServerRateBurst       = 20

	DefaultStorageDriver = "sqlite"
	DefaultSQLitePath    = "batchedit.db"
	DefaultSQLiteBusy    = 5 * time.Second

	DefaultDBHost          = "localhost"
	DefaultDBPort          = 5432
	DefaultDBName          = "batchedit"
	DefaultDBMaxConns      = 25
	DefaultDBMinConns      = 2
	DefaultDBMigrationPath = "migrations/postgres"

	DefaultRedisAddr     = "localhost:6379"
	DefaultRedisPoolSize = 10
	DefaultRedisCacheTTL = 30 * 24 * time.Hour
	DefaultRedisLockTTL  = 30 * time.Second
	DefaultRedisPrefix   = "batchedit"

	DefaultKafkaBroker       = "localhost:9092"
	DefaultKafkaGroupID      = "batchedit-audit"
	DefaultKafkaMaxRetries   = 3
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchTimeout = 10 * time.Millisecond

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "batchedit-snapshots"

	DefaultMetricsNamespace = "batchedit"
	DefaultMetricsPath      = "/metrics"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultAssistantRate          = 1.0
	DefaultAssistantBurst         = 2
	DefaultAssistantMaxTokens     = 1400
	DefaultAssistantInfoMaxTokens = 650
	DefaultAssistantTimeout       = 60 * time.Second

	DefaultVOrigL         = 20.0
	DefaultSessionTTL     = 30 * time.Minute
	DefaultMaxSessions    = 256
	DefaultRequireConfirm = true
	DefaultAutoCorrect    = true
)

// registerDefaults seeds v with every known key.  Viper only maps environment
// variables onto keys it already knows, so this also makes LoadFromEnv work
// for keys absent from any file.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.mode", DefaultServerMode)
	v.SetDefault("server.read_timeout", DefaultServerReadTimeout)
	v.SetDefault("server.write_timeout", DefaultServerWriteTimeout)
	v.SetDefault("server.max_body_size", DefaultServerMaxBodySize)
	v.SetDefault("server.shutdown_timeout", DefaultServerShutdownTimeout)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", DefaultServerRateBurst)

	v.SetDefault("storage.driver", DefaultStorageDriver)
	v.SetDefault("storage.reference_path", "")
	v.SetDefault("sqlite.path", DefaultSQLitePath)
	v.SetDefault("sqlite.busy_timeout", DefaultSQLiteBusy)

	v.SetDefault("database.host", DefaultDBHost)
	v.SetDefault("database.port", DefaultDBPort)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.db_name", DefaultDBName)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", DefaultDBMaxConns)
	v.SetDefault("database.min_conns", DefaultDBMinConns)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.migration_path", DefaultDBMigrationPath)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", DefaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", DefaultRedisPoolSize)
	v.SetDefault("redis.cache_ttl", DefaultRedisCacheTTL)
	v.SetDefault("redis.lock_ttl", DefaultRedisLockTTL)
	v.SetDefault("redis.key_prefix", DefaultRedisPrefix)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{DefaultKafkaBroker})
	v.SetDefault("kafka.group_id", DefaultKafkaGroupID)
	v.SetDefault("kafka.max_retries", DefaultKafkaMaxRetries)
	v.SetDefault("kafka.batch_size", DefaultKafkaBatchSize)
	v.SetDefault("kafka.batch_timeout", DefaultKafkaBatchTimeout)

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", DefaultMinIOEndpoint)
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", DefaultMinIOBucket)
	v.SetDefault("minio.region", "")
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", DefaultMetricsNamespace)
	v.SetDefault("metrics.path", DefaultMetricsPath)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.output", []string{"stdout"})

	for _, ep := range []struct{ key, name string }{{"api1", "API1"}, {"api2", "API2"}} {
		v.SetDefault("assistant."+ep.key+".name", ep.name)
		v.SetDefault("assistant."+ep.key+".provider", ProviderOpenAI)
		v.SetDefault("assistant."+ep.key+".base_url", "")
		v.SetDefault("assistant."+ep.key+".api_key", "")
		v.SetDefault("assistant."+ep.key+".model", "")
	}
	v.SetDefault("assistant.rate_per_second", DefaultAssistantRate)
	v.SetDefault("assistant.burst", DefaultAssistantBurst)
	v.SetDefault("assistant.max_tokens", DefaultAssistantMaxTokens)
	v.SetDefault("assistant.info_max_tokens", DefaultAssistantInfoMaxTokens)
	v.SetDefault("assistant.timeout", DefaultAssistantTimeout)

	v.SetDefault("batch_edit.require_confirm", DefaultRequireConfirm)
	v.SetDefault("batch_edit.auto_correct", DefaultAutoCorrect)
	v.SetDefault("batch_edit.default_v_orig_l", DefaultVOrigL)
	v.SetDefault("batch_edit.auto_match_write_to_db", false)
	v.SetDefault("batch_edit.session_ttl", DefaultSessionTTL)
	v.SetDefault("batch_edit.max_sessions", DefaultMaxSessions)
}

// ApplyDefaults fills zero-value fields in cfg.  Explicit values always win.
// Boolean switches cannot be defaulted here because false is a valid choice;
// they receive their defaults through registerDefaults or NewDefault.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = DefaultServerMaxBodySize
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultServerShutdownTimeout
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = DefaultServerRateBurst
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultSQLitePath
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultSQLiteBusy
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = DefaultDBMigrationPath
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = DefaultRedisPoolSize
	}
	if cfg.Redis.CacheTTL == 0 {
		cfg.Redis.CacheTTL = DefaultRedisCacheTTL
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = DefaultRedisLockTTL
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisPrefix
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = DefaultKafkaMaxRetries
	}
	if cfg.Kafka.BatchSize == 0 {
		cfg.Kafka.BatchSize = DefaultKafkaBatchSize
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = DefaultKafkaBatchTimeout
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}

	// ── Metrics / Log ─────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if len(cfg.Log.Output) == 0 {
		cfg.Log.Output = []string{"stdout"}
	}

	// ── Assistant ─────────────────────────────────────────────────────────────
	if cfg.Assistant.API1.Name == "" {
		cfg.Assistant.API1.Name = "API1"
	}
	if cfg.Assistant.API2.Name == "" {
		cfg.Assistant.API2.Name = "API2"
	}
	if cfg.Assistant.API1.Provider == "" {
		cfg.Assistant.API1.Provider = ProviderOpenAI
	}
	if cfg.Assistant.API2.Provider == "" {
		cfg.Assistant.API2.Provider = ProviderOpenAI
	}
	if cfg.Assistant.RatePerSecond == 0 {
		cfg.Assistant.RatePerSecond = DefaultAssistantRate
	}
	if cfg.Assistant.Burst == 0 {
		cfg.Assistant.Burst = DefaultAssistantBurst
	}
	if cfg.Assistant.MaxTokens == 0 {
		cfg.Assistant.MaxTokens = DefaultAssistantMaxTokens
	}
	if cfg.Assistant.InfoMaxTokens == 0 {
		cfg.Assistant.InfoMaxTokens = DefaultAssistantInfoMaxTokens
	}
	if cfg.Assistant.Timeout == 0 {
		cfg.Assistant.Timeout = DefaultAssistantTimeout
	}

	// ── Batch edit ────────────────────────────────────────────────────────────
	if cfg.BatchEdit.DefaultVOrigL == 0 {
		cfg.BatchEdit.DefaultVOrigL = DefaultVOrigL
	}
	if cfg.BatchEdit.SessionTTL == 0 {
		cfg.BatchEdit.SessionTTL = DefaultSessionTTL
	}
	if cfg.BatchEdit.MaxSessions == 0 {
		cfg.BatchEdit.MaxSessions = DefaultMaxSessions
	}
}

// NewDefault returns a Config with every default applied, including the
// boolean switches, and the memory store selected.  Tests and embedded use.
func NewDefault() *Config {
	cfg := &Config{}
	cfg.Storage.Driver = "memory"
	cfg.Metrics.Enabled = true
	cfg.BatchEdit.RequireConfirm = DefaultRequireConfirm
	cfg.BatchEdit.AutoCorrect = DefaultAutoCorrect
	ApplyDefaults(cfg)
	return cfg
}
