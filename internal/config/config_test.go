package config_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/plankton-batchedit/internal/config"
)

func validConfig() *config.Config {
	return config.NewDefault()
}

func postgresConfig() *config.Config {
	cfg := validConfig()
	cfg.Storage.Driver = "postgres"
	cfg.Database.User = "batchedit"
	cfg.Database.Password = "secret"
	return cfg
}

func TestConfig_Validate_ValidConfig(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validConfig().Validate())
	assert.NoError(t, postgresConfig().Validate())
}

func TestConfig_Validate_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"server port low", func(c *config.Config) { c.Server.Port = 0 }, "server.port"},
		{"server port high", func(c *config.Config) { c.Server.Port = 65536 }, "server.port"},
		{"server mode", func(c *config.Config) { c.Server.Mode = "production" }, "server.mode"},
		{"storage driver", func(c *config.Config) { c.Storage.Driver = "bolt" }, "storage.driver"},
		{"sqlite path", func(c *config.Config) { c.Storage.Driver = "sqlite"; c.SQLite.Path = "" }, "sqlite.path"},
		{"pg user", func(c *config.Config) { c.Storage.Driver = "postgres"; c.Database.User = "" }, "database.user"},
		{"redis addr", func(c *config.Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis.addr"},
		{"kafka brokers", func(c *config.Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }, "kafka.brokers"},
		{"minio bucket", func(c *config.Config) { c.MinIO.Enabled = true; c.MinIO.Bucket = "" }, "minio.bucket"},
		{"rate", func(c *config.Config) { c.Assistant.RatePerSecond = -1 }, "rate_per_second"},
		{"max tokens", func(c *config.Config) { c.Assistant.MaxTokens = 0 }, "max_tokens"},
		{"provider", func(c *config.Config) { c.Assistant.API2.Provider = "claude" }, "provider"},
		{"vo zero", func(c *config.Config) { c.BatchEdit.DefaultVOrigL = 0 }, "default_v_orig_l"},
		{"vo nan", func(c *config.Config) { c.BatchEdit.DefaultVOrigL = math.NaN() }, "default_v_orig_l"},
		{"session ttl", func(c *config.Config) { c.BatchEdit.SessionTTL = -1 }, "session_ttl"},
		{"log level", func(c *config.Config) { c.Log.Level = "trace" }, "log.level"},
		{"log format", func(c *config.Config) { c.Log.Format = "text" }, "log.format"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestEndpointConfig_Configured(t *testing.T) {
	t.Parallel()
	assert.False(t, config.EndpointConfig{}.Configured())
	assert.False(t, config.EndpointConfig{BaseURL: "https://x"}.Configured())
	assert.True(t, config.EndpointConfig{BaseURL: "https://x", Model: "m"}.Configured())
}
