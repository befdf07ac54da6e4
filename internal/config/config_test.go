package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendMemory, cfg.Store.Repository)
	assert.Equal(t, 2000, cfg.Extraction.TileThreshold)
	assert.Equal(t, 1500, cfg.Extraction.TileSize)
	assert.Equal(t, []string{"eng"}, cfg.Extraction.Languages)
	assert.Equal(t, 10, cfg.Checkpoints.Queued)
	assert.Equal(t, 90, cfg.Checkpoints.OCREnd)
	assert.Equal(t, 100, cfg.Checkpoints.Completed)
	assert.True(t, cfg.Store.Dedupe)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("REPOSITORY_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/intake")
	t.Setenv("EXTRACTION_WORKERS", "6")
	t.Setenv("EXTRACTION_TASK_TIMEOUT", "45s")
	t.Setenv("OCR_LANGUAGES", "eng, deu ,")
	t.Setenv("DEDUPE_UPLOADS", "false")
	t.Setenv("PROGRESS_OCR_END", "80")
	t.Setenv("MAX_UPLOAD_MB", "not-a-number")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendPostgres, cfg.Store.Repository)
	assert.Equal(t, 6, cfg.Extraction.Workers)
	assert.Equal(t, 45*time.Second, cfg.Extraction.TaskTimeout)
	assert.Equal(t, []string{"eng", "deu"}, cfg.Extraction.Languages)
	assert.False(t, cfg.Store.Dedupe)
	assert.Equal(t, 80, cfg.Checkpoints.OCREnd)
	assert.Equal(t, int64(50)<<20, cfg.Server.MaxUploadBytes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"firestore without project", func(c *Config) { c.Store.Repository = BackendFirestore }, "PROJECT_ID"},
		{"postgres without dsn", func(c *Config) { c.Store.Repository = BackendPostgres }, "DATABASE_URL"},
		{"unknown repository", func(c *Config) { c.Store.Repository = "mongo" }, "REPOSITORY_BACKEND"},
		{"gcs without bucket", func(c *Config) { c.Store.Objects = BackendGCS }, "UPLOADS_BUCKET"},
		{"tile larger than threshold", func(c *Config) { c.Extraction.TileSize = 2500 }, "TILE_SIZE"},
		{"checkpoints out of order", func(c *Config) { c.Checkpoints.OCRStart = 95 }, "checkpoints"},
		{"workflow without project", func(c *Config) { c.GCP.WorkflowID = "wf" }, "WORKFLOW_ID"},
		{"mapping without extraction", func(c *Config) { c.Mapping.ServiceURL = "http://mapper.local" }, "VERTEX_FIELD_EXTRACTION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
