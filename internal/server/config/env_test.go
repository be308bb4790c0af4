package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseEnv(t *testing.T) {
	origDotEnv := loadDotEnv
	t.Cleanup(func() { loadDotEnv = origDotEnv })
	loadDotEnv = func() {}

	t.Setenv("GOPHDROP_GRPC_ADDR", ":7000")
	t.Setenv("GOPHDROP_REGISTRY", "redis")
	t.Setenv("GOPHDROP_REDIS_DB", "4")
	t.Setenv("GOPHDROP_S3_USE_PATH_STYLE", "false")
	t.Setenv("GOPHDROP_PART_URL_TTL", "30m")
	t.Setenv("GOPHDROP_JANITOR_EVERY", "not-a-number")
	t.Setenv("GOPHDROP_REAPER_INTERVAL", "soon")
	t.Setenv("GOPHDROP_SECRET_KEY", "")

	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)

	assert.Equal(t, ":7000", cfg.EndpointAddrGRPC)
	assert.Equal(t, RegistryRedis, cfg.Registry)
	assert.Equal(t, 4, cfg.RedisDB)
	assert.False(t, cfg.S3UsePathStyle)
	assert.Equal(t, 30*time.Minute, cfg.PartURLTTL)

	// malformed and empty values keep the previous value
	assert.Equal(t, 20, cfg.JanitorEvery)
	assert.Equal(t, 30*time.Second, cfg.ReaperInterval)
	assert.Empty(t, cfg.SecretKey)
}

func Test_parseEnv_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("GOPHDROP_S3_BUCKET=dotenv-bucket\nGOPHDROP_LOG_LEVEL=debug\n"), 0o600))

	origDotEnv := loadDotEnv
	t.Cleanup(func() {
		loadDotEnv = origDotEnv
		os.Unsetenv("GOPHDROP_S3_BUCKET")
	})
	loadDotEnv = func() { _ = godotenv.Load(path) }

	// already-set variables win over .env
	t.Setenv("GOPHDROP_LOG_LEVEL", "warn")

	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)

	assert.Equal(t, "dotenv-bucket", cfg.S3Bucket)
	assert.Equal(t, "warn", cfg.LogLevel)
}
