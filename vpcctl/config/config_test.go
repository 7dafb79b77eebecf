package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultStateDir, cfg.StateDir)
	assert.Equal(t, DefaultStateDir+"/"+DefaultLogName, cfg.LogPath)
	assert.Equal(t, DefaultStateDir+"/"+DefaultLockName, cfg.LockPath)
	assert.Equal(t, DefaultLockTimeout, cfg.LockTimeout)
	assert.False(t, cfg.Debug)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultStateDir, cfg.StateDir)
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
state_dir = "/var/lib/vpcctl"
lock_timeout = "30s"
debug = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/vpcctl", cfg.StateDir)
	assert.Equal(t, 30*time.Second, cfg.LockTimeout)
	assert.True(t, cfg.Debug)
	// Derived paths follow the state dir unless overridden.
	assert.Equal(t, "/var/lib/vpcctl/"+DefaultLogName, cfg.LogPath)
	assert.Equal(t, "/var/lib/vpcctl/"+DefaultLockName, cfg.LockPath)
}

func TestLoadConfigMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("state_dir = [broken"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigExplicitPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
state_dir = "/tmp/vpcctl-test"
log_path = "/tmp/elsewhere/audit.log"
lock_path = "/tmp/elsewhere/.lock"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/elsewhere/audit.log", cfg.LogPath)
	assert.Equal(t, "/tmp/elsewhere/.lock", cfg.LockPath)
}
