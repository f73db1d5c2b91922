package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "formctl.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, 5*time.Minute, cfg.Catalog.CacheTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dir := t.TempDir()
	writeConfig(t, dir, `
database:
  url: postgres://forms@localhost/forms
server:
  host: 127.0.0.1
  port: 9090
redis:
  addr: localhost:6379
  db: 2
catalog:
  path: catalog.yaml
  cache_ttl: 30s
entities:
  path: entities.yml
log:
  level: debug
  development: true
`)

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, "postgres://forms@localhost/forms", cfg.Database.URL)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Address())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "catalog.yaml", cfg.Catalog.Path)
	assert.Equal(t, 30*time.Second, cfg.Catalog.CacheTTL)
	assert.Equal(t, "entities.yml", cfg.Entities.Path)
	assert.True(t, cfg.Log.Development)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "database:\n  url: postgres://file\nserver:\n  port: 9090\n")

	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("FORMCTL_SERVER_PORT", "7070")
	t.Setenv("FORMCTL_LOG_LEVEL", "warn")

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env", cfg.Database.URL)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_ExplicitPath(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 6060\n"), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)

	_, err = Load(filepath.Join(dir, "missing.yaml"), "")
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dir := t.TempDir()
	writeConfig(t, dir, "server:\n  port: 70000\n")

	_, err := Load("", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}
