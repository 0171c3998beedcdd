package config

import (
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/veyra/stitchd/errors"
)

var (
	mu           sync.Mutex
	globalConfig *Config
)

// Load reads the stitchd configuration, caching it for the process.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v := newViper()
	v.SetConfigName("stitchd")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/stitchd")

	// A missing config file is fine; defaults plus env cover everything
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config")
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path, bypassing
// the process cache. Used by tests and the --config flag.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	return unmarshal(v)
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("STITCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "stitchd.db")
	v.SetDefault("database.max_conns", 8)

	v.SetDefault("server.stream_addr", "127.0.0.1:7878")
	v.SetDefault("server.admin_addr", "127.0.0.1:7879")

	v.SetDefault("auth.enabled", false)

	v.SetDefault("extensions.base_dirs", []string{"./providers"})
	v.SetDefault("extensions.watch", false)
}
