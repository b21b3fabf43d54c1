package svcconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig(t.TempDir(), ServerConfig{})
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.DiskPort)
	assert.Equal(t, 9002, cfg.FSPort)
	assert.Equal(t, 64, cfg.Cylinders)
}

func TestLoadServerConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.toml"), []byte(`
disk_port = 7001
cache_cap = 512
`), 0o644))

	cfg, err := LoadServerConfig(dir, ServerConfig{})
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.DiskPort)
	assert.Equal(t, 512, cfg.CacheCap)
	assert.Equal(t, 9002, cfg.FSPort) // untouched default survives
}

func TestLoadServerConfigOverrideWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.toml"), []byte(`
disk_port = 7001
`), 0o644))

	cfg, err := LoadServerConfig(dir, ServerConfig{DiskPort: 9999})
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.DiskPort)
}

func TestClientConfigRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "root", cfg.Username)

	cfg.Username = "alice"
	cfg.Server = "example:9002"
	require.NoError(t, SaveClientConfig(cfg))

	reloaded, err := LoadClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "alice", reloaded.Username)
	assert.Equal(t, "example:9002", reloaded.Server)
}
