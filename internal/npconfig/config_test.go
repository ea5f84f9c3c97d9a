package npconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFlagsOrEnv(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "oc_", cfg.DatabasePrefix)
	assert.Equal(t, os.FileMode(0660), cfg.SocketPermissions)
	assert.Equal(t, 15*time.Second, cfg.MaxDebounceTime)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadFlagsOverrideEnvOverrideFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(
		"database_url: postgres://file\nnextcloud_url: https://file.example\nredis_url: redis://file\n",
	), 0644))

	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("NEXTCLOUD_URL", "https://env.example")

	cfg, err := Load([]string{
		"-nextcloud-url", "https://flag.example",
		configPath,
	})
	require.NoError(t, err)

	// File sets database_url, nextcloud_url and redis_url; env overrides
	// database_url and nextcloud_url; the flag overrides nextcloud_url once more.
	assert.Equal(t, "postgres://env", cfg.DatabaseURL)
	assert.Equal(t, "https://flag.example", cfg.NextcloudURL)
	assert.Equal(t, "redis://file", cfg.RedisURL)
}

func TestLoadParsesOctalSocketPermissions(t *testing.T) {
	cfg, err := Load([]string{"-socket-permissions", "0600"})
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), cfg.SocketPermissions)
}

func TestValidateReportsMissingDependencies(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingDatabase)

	cfg.DatabaseURL = "postgres://x"
	assert.ErrorIs(t, cfg.Validate(), ErrMissingBackend)

	cfg.NextcloudURL = "https://example.com"
	assert.ErrorIs(t, cfg.Validate(), ErrMissingRedis)

	cfg.RedisURL = "redis://x"
	assert.NoError(t, cfg.Validate())
}

func TestDumpProducesParseableYAML(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	out, err := cfg.Dump()
	require.NoError(t, err)
	assert.Contains(t, out, "database_prefix: oc_")
}

func TestGlobConfigMergesMultipleFilesLastWins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(
		"database_url: postgres://a\nredis_url: redis://a\n",
	), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(
		"database_url: postgres://b\n",
	), 0644))

	cfg, err := Load([]string{"-glob-config", filepath.Join(dir, "*.yaml")})
	require.NoError(t, err)
	assert.Equal(t, "postgres://b", cfg.DatabaseURL)
	assert.Equal(t, "redis://a", cfg.RedisURL)
}
