package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 64, cfg.Sandbox.MaxMemoryMB)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.ExecTimeout)
	assert.Equal(t, int64(4<<20), cfg.Network.MaxResponseBytes)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.NotEmpty(t, cfg.ExtensionsRoot)
	assert.NotEmpty(t, cfg.PermissionsFile)
	require.NoError(t, Validate(cfg))
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Sandbox, cfg.Sandbox)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glyph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workspace_root: /tmp
sandbox:
  max_memory_mb: 128
  exec_timeout: 5s
logger:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp", cfg.WorkspaceRoot)
	assert.Equal(t, 128, cfg.Sandbox.MaxMemoryMB)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.ExecTimeout)
	assert.Equal(t, "debug", cfg.Logger.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, Defaults().Network, cfg.Network)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glyph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sandbox: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_Accumulates(t *testing.T) {
	cfg := Defaults()
	cfg.ExtensionsRoot = ""
	cfg.Sandbox.MaxMemoryMB = -1
	cfg.Logger.Level = "loud"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extensions_root")
	assert.Contains(t, err.Error(), "max_memory_mb")
	assert.Contains(t, err.Error(), "level")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("GLYPH_WORKSPACE_ROOT", "/projects/demo")
	t.Setenv("GLYPH_LOG_LEVEL", "warn")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "/projects/demo", cfg.WorkspaceRoot)
	assert.Equal(t, "warn", cfg.Logger.Level)
}
