// Package config loads stitchd configuration via Viper.
//
// Sources, in precedence order: environment variables (prefix STITCHD),
// an explicit config file, then built-in defaults. The auth toggle is
// read once at startup and never changes for the life of the process.
package config

import "github.com/veyra/stitchd/errors"

// Config is the full stitchd configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Extensions ExtensionsConfig `mapstructure:"extensions"`
}

// DatabaseConfig configures the SQLite entity store
type DatabaseConfig struct {
	Path     string `mapstructure:"path"`
	MaxConns int    `mapstructure:"max_conns"` // pool size, the primary backpressure bound
}

// ServerConfig configures the two listeners
type ServerConfig struct {
	StreamAddr string `mapstructure:"stream_addr"` // line-oriented TCP transport
	AdminAddr  string `mapstructure:"admin_addr"`  // HTTP admin + WebSocket transport
}

// AuthConfig configures token authentication.
// Enabled is process-wide and fixed at startup.
type AuthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ExtensionsConfig configures the foreign-runtime provider host
type ExtensionsConfig struct {
	BaseDirs []string `mapstructure:"base_dirs"` // module search path, extended at most once per dir
	Watch    bool     `mapstructure:"watch"`     // hot-reload loaded modules on file change
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Database.MaxConns < 0 {
		return errors.Newf("database.max_conns must be >= 0, got %d", c.Database.MaxConns)
	}
	if c.Server.StreamAddr == "" {
		return errors.New("server.stream_addr cannot be empty")
	}
	if c.Server.AdminAddr == "" {
		return errors.New("server.admin_addr cannot be empty")
	}
	if c.Server.StreamAddr == c.Server.AdminAddr {
		return errors.Newf("server.stream_addr and server.admin_addr cannot both be %s", c.Server.StreamAddr)
	}
	return nil
}
