package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix of every setting.
const envPrefix = "BATCHEDIT"

// Sentinel errors returned (wrapped) by Load.
var (
	ErrConfigFileNotFound = errors.New("config: file not found")
	ErrConfigParseError   = errors.New("config: parse error")
	ErrConfigValidation   = errors.New("config: validation failed")
)

var (
	globalMu  sync.RWMutex
	globalCfg *Config
)

// Get returns the Config most recently produced by Load, or nil.
func Get() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalCfg
}

func setGlobal(cfg *Config) {
	globalMu.Lock()
	globalCfg = cfg
	globalMu.Unlock()
}

// ─────────────────────────────────────────────────────────────────────────────
// Options
// ─────────────────────────────────────────────────────────────────────────────

type loadOptions struct {
	configPath  string
	searchPaths []string
	overrides   map[string]interface{}
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

// WithConfigPath reads exactly the given file.
func WithConfigPath(path string) LoadOption {
	return func(o *loadOptions) { o.configPath = path }
}

// WithSearchPaths looks for config.yaml in each directory, in order.
func WithSearchPaths(dirs ...string) LoadOption {
	return func(o *loadOptions) { o.searchPaths = append(o.searchPaths, dirs...) }
}

// WithOverrides sets keys after file and environment have been merged.
func WithOverrides(values map[string]interface{}) LoadOption {
	return func(o *loadOptions) { o.overrides = values }
}

// newViper builds a Viper instance with the standard settings: YAML,
// BATCHEDIT_ prefix, automatic env binding and "." → "_" so that
// "batch_edit.require_confirm" resolves to BATCHEDIT_BATCH_EDIT_REQUIRE_CONFIRM.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	registerDefaults(v)
	return v
}

// Load reads configuration from a file (when one is given or found on the
// search paths), merges BATCHEDIT_* environment overrides, applies defaults
// and validates the result.  With no file options it behaves like
// LoadFromEnv.
func Load(opts ...LoadOption) (*Config, error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	v := newViper()
	switch {
	case o.configPath != "":
		if _, err := os.Stat(o.configPath); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, o.configPath)
		}
		v.SetConfigFile(o.configPath)
	case len(o.searchPaths) > 0:
		v.SetConfigName("config")
		for _, p := range o.searchPaths {
			v.AddConfigPath(p)
		}
	}

	if o.configPath != "" || len(o.searchPaths) > 0 {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("%w: %v", ErrConfigFileNotFound, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrConfigParseError, err)
		}
	}
	for k, val := range o.overrides {
		v.Set(k, val)
	}

	cfg, err := unmarshalAndFinalize(v)
	if err != nil {
		return nil, err
	}
	setGlobal(cfg)
	return cfg, nil
}

// LoadFromFile is shorthand for Load(WithConfigPath(path)).
func LoadFromFile(path string) (*Config, error) {
	return Load(WithConfigPath(path))
}

// LoadFromEnv builds a Config from BATCHEDIT_* environment variables and
// defaults only.
//
//	BATCHEDIT_<SECTION>_<FIELD>   e.g.  BATCHEDIT_STORAGE_DRIVER, BATCHEDIT_REDIS_ADDR
func LoadFromEnv() (*Config, error) {
	return Load()
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParseError, err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigValidation, err)
	}
	return cfg, nil
}

// Watch re-reads configPath whenever it changes and passes the new Config to
// onChange.  Invalid revisions are reported to onError (when non-nil) and
// otherwise ignored.  The server uses it to hot-reload batch_edit switches
// and the log level.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigParseError, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		setGlobal(cfg)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is Load that panics on error, for use in main().
func MustLoad(opts ...LoadOption) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
