package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaultsAreValid(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "static", cfg.Embedding.Provider)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
}

func TestLoadWithNoFilesReturnsDefaults(t *testing.T) {
	t.Setenv("IXCHEL_HOME", t.TempDir())
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Embedding, cfg.Embedding)
}

func TestLoadMergesProjectOverUser(t *testing.T) {
	home := t.TempDir()
	t.Setenv("IXCHEL_HOME", home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "config", "config.toml"),
		[]byte("[embedding]\nprovider = \"ollama\"\ndimension = 384\n"), 0o644))

	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".ixchel"), 0o755))
	require.NoError(t, os.WriteFile(ProjectConfigPath(repo),
		[]byte("[embedding]\ndimension = 768\n"), 0o644))

	cfg, err := Load(repo)
	require.NoError(t, err)
	// provider comes from user config, dimension overridden by project config
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
}

func TestEnvOverridesWinOverFiles(t *testing.T) {
	home := t.TempDir()
	t.Setenv("IXCHEL_HOME", home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "config", "config.toml"),
		[]byte("[embedding]\nprovider = \"ollama\"\n"), 0o644))
	t.Setenv("IXCHEL_EMBEDDING_PROVIDER", "static")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embedding.Provider)
}

func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := NewConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroDimension(t *testing.T) {
	cfg := NewConfig()
	cfg.Embedding.Dimension = 0
	assert.Error(t, cfg.Validate())
}

func TestWriteTOMLRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := NewConfig()
	cfg.Embedding.Model = "custom-model"
	require.NoError(t, cfg.WriteTOML(path))

	loaded, err := loadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-model", loaded.Embedding.Model)
}

func TestOverfetchK(t *testing.T) {
	s := SearchConfig{OverfetchMultiplier: 2, OverfetchMin: 10}
	assert.Equal(t, 20, s.OverfetchK(10)) // max(20, 20)
	assert.Equal(t, 13, s.OverfetchK(3))  // max(6, 13)
}
