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
	t.Setenv("STORAGE_BACKEND", "local")
	t.Setenv("PROGRESS_BACKEND", "memory")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "scorms", cfg.StoragePrefix)
	assert.Equal(t, time.Hour, cfg.ProgressTTL())
	assert.Equal(t, 1, cfg.DefaultWeight)
	assert.True(t, cfg.AllowAnonymous)
	assert.False(t, cfg.TrustGatewayTokens)
	assert.NotEmpty(t, cfg.StagingDir)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("LISTEN_ADDR=:9999\nPROGRESS_TTL_SECONDS=60\n"), 0o644))

	// godotenv does not override variables that are already set
	os.Unsetenv("LISTEN_ADDR")
	os.Unsetenv("PROGRESS_TTL_SECONDS")
	t.Cleanup(func() {
		os.Unsetenv("LISTEN_ADDR")
		os.Unsetenv("PROGRESS_TTL_SECONDS")
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, time.Minute, cfg.ProgressTTL())
}

func TestValidate(t *testing.T) {
	base := Config{
		StorageBackend:     BackendLocal,
		LocalRoot:          "/tmp/content",
		ProgressBackend:    ProgressMemory,
		ProgressTTLSeconds: 3600,
		MaxChunkBytes:      1024,
		DefaultWeight:      1,
	}
	require.NoError(t, base.Validate())

	s3 := base
	s3.StorageBackend = BackendS3
	assert.Error(t, s3.Validate())
	s3.Bucket = "content"
	assert.NoError(t, s3.Validate())

	bad := base
	bad.StorageBackend = "ftp"
	assert.Error(t, bad.Validate())

	bad = base
	bad.ProgressBackend = "memcached"
	assert.Error(t, bad.Validate())

	bad = base
	bad.ProgressTTLSeconds = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.DefaultWeight = -1
	assert.Error(t, bad.Validate())
}
