package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir))

	assert.Equal(t, "nomic-embed-text", GetString("embedding_model"))
	assert.Equal(t, 768, GetInt("embedding_dimensions"))
	assert.Equal(t, 20, GetInt("max_recall_results"))
	assert.True(t, GetBool("enable_rrf"))
	assert.Equal(t, filepath.Join(dir, "daemon.log"), GetString("log_path"))
}

func TestInitializeReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	configJSON := `{"embedding_model": "mxbai-embed-large", "max_recall_results": 50}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(configJSON), 0o644))

	require.NoError(t, Initialize(dir))

	assert.Equal(t, "mxbai-embed-large", GetString("embedding_model"))
	assert.Equal(t, 50, GetInt("max_recall_results"))
	assert.Equal(t, SourceConfigFile, GetValueSource("embedding_model"))
	assert.Equal(t, SourceDefault, GetValueSource("decay_rate_daily"))
}

func TestEnvVarOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"health_port": 8080}`), 0o644))
	require.NoError(t, Initialize(dir))

	t.Setenv("CLAUDIA_HEALTH_PORT", "9191")
	assert.Equal(t, 9191, GetInt("health_port"))
	assert.Equal(t, SourceEnvVar, GetValueSource("health_port"))
}
