package config

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
	assert.Equal(t, 1, cfg.Parallel)
	assert.Equal(t, filepath.Join(root, "verify.star"), cfg.WorkspacePath(root))
	assert.Equal(t, filepath.Join(root, "target", "xverify", "history.db"), cfg.HistoryPath(root))
}

func TestEnvironment(t *testing.T) {
	t.Setenv("XVERIFY_PARALLEL", "4")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Parallel)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Workspace: "verify.star", Parallel: 1}
	cfg.Log.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg.Log.Level = "warning"
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, zerolog.WarnLevel, cfg.LogLevel())

	cfg.Parallel = 0
	assert.Error(t, cfg.Validate())
}

func TestHistoryPath(t *testing.T) {
	cfg := &Config{}
	cfg.History.Path = "/var/cache/xverify.db"
	assert.Equal(t, "/var/cache/xverify.db", cfg.HistoryPath("/src"))

	cfg.History.Path = "ci/history.db"
	assert.Equal(t, filepath.Join("/src", "ci", "history.db"), cfg.HistoryPath("/src"))
}
