package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	t.Setenv("SPOOL_THRESHOLD_MB", "")
	t.Setenv("RELAY_CONCURRENCY", "")
	t.Setenv("CHECKPOINT_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.SpoolThresholdMB)
	assert.Equal(t, int64(512<<20), cfg.SpoolThresholdBytes())
	assert.Equal(t, 1, cfg.RelayConcurrency)
	assert.Equal(t, "cli_checkpoint.json", cfg.CheckpointFile)
	assert.Equal(t, 512, cfg.UploadPartKB)
	assert.Equal(t, 256, cfg.UploadFallbackPartKB)
	assert.Equal(t, 60, cfg.FloodDefaultWaitSec)
}

func TestConfig_FromEnv(t *testing.T) {
	t.Setenv("SPOOL_THRESHOLD_MB", "64")
	t.Setenv("RELAY_CONCURRENCY", "4")
	t.Setenv("TG_RPS", "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.SpoolThresholdMB)
	assert.Equal(t, 4, cfg.RelayConcurrency)
	assert.InDelta(t, 0.5, cfg.TGRPS, 0.0001)
}

func TestConfig_ClampsConcurrency(t *testing.T) {
	t.Setenv("RELAY_CONCURRENCY", "0")
	t.Setenv("EXPORT_WORKERS", "-3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.RelayConcurrency)
	assert.Equal(t, 1, cfg.ExportWorkers)
}

func TestConfig_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("SPOOL_THRESHOLD_MB", "lots")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.SpoolThresholdMB)
}
