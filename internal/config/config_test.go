package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "empty_result", cfg.Filters.Policy)
	assert.Equal(t, 4096, cfg.Filters.CacheSize)
	assert.Equal(t, 100, cfg.Filters.MaxPerPage)
	assert.False(t, cfg.Auth.Enabled)
	assert.False(t, cfg.Properties().IsSet("anything"))
}

func TestLoadFile_FiltersAndProperties(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
database:
  driver: sqlite
  name: shop
  path: /tmp/data
filters:
  definitions: defs.yaml
  policy: exception
  locale: tr
  patterns:
    date: 02.01.2006
properties:
  region: EU
  limits:
    max_total: 500
`))
	require.NoError(t, err)

	assert.True(t, cfg.Database.IsSQLite())
	assert.Equal(t, "/tmp/data/shop.db", cfg.Database.DSN())
	assert.Equal(t, "defs.yaml", cfg.Filters.Definitions)
	assert.Equal(t, "exception", cfg.Filters.Policy)
	assert.Equal(t, "tr", cfg.Filters.Locale)
	assert.Equal(t, "02.01.2006", cfg.Filters.Patterns.Date)

	props := cfg.Properties()
	assert.Equal(t, "EU", props.GetString("region"))
	assert.Equal(t, 500, props.GetInt("limits.max_total"))
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDSN_Postgres(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5432, Name: "shop"}
	assert.Equal(t, "postgres://u:p@db:5432/shop?sslmode=disable", d.DSN())
}
