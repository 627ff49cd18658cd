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
	t.Setenv("REVIEWCORE_CONFIG", "")
	t.Setenv("API_ADDR", "")
	t.Setenv("CORS_ORIGIN", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("DATABASE_MAX_CONNS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, "*", cfg.CORSOrigin)
	assert.Equal(t, "./db/migrations", cfg.MigrationsDir)
	assert.Equal(t, 20, cfg.DatabaseMaxConns)
	assert.Equal(t, 24*time.Hour, cfg.SlugCacheTTL)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, "en", cfg.DefaultLanguage)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewcore.yaml")
	body := "addr: \":9000\"\nredisURL: redis://cache:6379/1\nslugCacheTTL: 30m\nminioUseSSL: true\nlogLevel: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("REVIEWCORE_CONFIG", path)
	t.Setenv("API_ADDR", "")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("REVIEWCORE_METADATA_CACHE_TTL", "90")
	t.Setenv("DATABASE_MAX_CONNS", "many")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, 30*time.Minute, cfg.SlugCacheTTL)
	assert.True(t, cfg.MinioUseSSL)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 90*time.Second, cfg.MetadataCacheTTL)
	assert.Equal(t, 20, cfg.DatabaseMaxConns, "unparseable ints keep the default")
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("REVIEWCORE_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestGetenvBoolFallback(t *testing.T) {
	t.Setenv("MINIO_USE_SSL", "sometimes")
	assert.True(t, getenvBool("MINIO_USE_SSL", true))
}
