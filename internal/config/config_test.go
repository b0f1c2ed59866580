package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5, cfg.Delivery.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Delivery.RequestTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Delivery.LeaseTimeout)
	assert.Equal(t, []time.Duration{
		time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour, 2 * time.Hour,
	}, cfg.Delivery.Backoff)
	assert.Zero(t, cfg.Delivery.Breaker.FailThreshold)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("delivery:\n  worker_count: 3\nlog:\n  level: debug\n"), 0o600))
	t.Setenv("WHGW_HTTP_ADDR", ":9999")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Delivery.WorkerCount)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 100, cfg.Delivery.BatchSize)
}

func TestLoadRejectsMissingOrBrokenFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("delivery: [\n  worker_count: 3\n"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsShortLease(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Delivery.LeaseTimeout = 5 * time.Second
	assert.Error(t, cfg.Validate())

	cfg.Delivery.LeaseTimeout = time.Minute
	cfg.Delivery.MaxAttempts = 0
	assert.Error(t, cfg.Validate())
}
