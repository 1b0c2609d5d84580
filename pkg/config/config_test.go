package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsOnly_FailsValidationWithoutRequiredFields(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EXTRACTOR_PROJECT_ID", "proj-1")
	t.Setenv("EXTRACTOR_INSTANCE_ID", "inst-1")
	t.Setenv("EXTRACTOR_DATABASE_ID", "db-1")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", cfg.ProjectID)
	assert.Equal(t, "inst-1", cfg.InstanceID)
	assert.Equal(t, "db-1", cfg.DatabaseID)
	assert.Equal(t, 20, cfg.Stages.IngestConcurrency)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlContent := []byte("project_id: from-file\ninstance_id: inst\ndatabase_id: db\nstages:\n  ingest_concurrency: 5\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yamlContent, 0o644))
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.ProjectID)
	assert.Equal(t, 5, cfg.Stages.IngestConcurrency)
	// Unset fields keep their defaults via mergo.
	assert.Equal(t, 30, cfg.Stages.EntityConcurrency)
	assert.Equal(t, "gemini-3-pro-preview", cfg.ModelName)
}

func TestStats(t *testing.T) {
	cfg := Defaults()
	cfg.ProjectID = "p"
	stats := cfg.Stats()
	assert.Equal(t, "p", stats.ProjectID)
	assert.Equal(t, cfg.Stages.IngestConcurrency, stats.IngestConcurrency)
}
