package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "stitchd.db", cfg.Database.Path)
	assert.Equal(t, 8, cfg.Database.MaxConns)
	assert.Equal(t, "127.0.0.1:7878", cfg.Server.StreamAddr)
	assert.Equal(t, "127.0.0.1:7879", cfg.Server.AdminAddr)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, []string{"./providers"}, cfg.Extensions.BaseDirs)
	assert.False(t, cfg.Extensions.Watch)
}

func TestLoadIsCached(t *testing.T) {
	Reset()
	defer Reset()

	first, err := Load()
	require.NoError(t, err)
	second, err := Load()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stitchd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "/var/lib/stitchd/data.db"
max_conns = 4

[server]
stream_addr = "0.0.0.0:9001"
admin_addr = "0.0.0.0:9002"

[auth]
enabled = true

[extensions]
base_dirs = ["/opt/stitchd/providers"]
watch = true
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/stitchd/data.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Database.MaxConns)
	assert.Equal(t, "0.0.0.0:9001", cfg.Server.StreamAddr)
	assert.True(t, cfg.Auth.Enabled)
	assert.True(t, cfg.Extensions.Watch)
	assert.Equal(t, []string{"/opt/stitchd/providers"}, cfg.Extensions.BaseDirs)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: DatabaseConfig{Path: "x.db", MaxConns: 4},
			Server:   ServerConfig{StreamAddr: "127.0.0.1:7878", AdminAddr: "127.0.0.1:7879"},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("negative pool size", func(t *testing.T) {
		c := base()
		c.Database.MaxConns = -1
		assert.Error(t, c.Validate())
	})

	t.Run("empty addresses", func(t *testing.T) {
		c := base()
		c.Server.StreamAddr = ""
		assert.Error(t, c.Validate())
	})

	t.Run("colliding addresses", func(t *testing.T) {
		c := base()
		c.Server.AdminAddr = c.Server.StreamAddr
		assert.Error(t, c.Validate())
	})
}

func TestEnvOverride(t *testing.T) {
	Reset()
	defer Reset()
	t.Setenv("STITCHD_SERVER_STREAM_ADDR", "127.0.0.1:9999")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.StreamAddr)
}
