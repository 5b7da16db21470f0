package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"SERVER_HOST", "SERVER_PORT", "STORE_DRIVER", "DB_HOST", "DB_PORT",
		"DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE", "SQLITE_PATH",
		"COLLAB_SHEETS_CONFIG",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := Load()
	assert.Equal(t, ":8080", cfg.GetServerAddr())
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "collab-sheets.sqlite3", cfg.SQLitePath)
	assert.Contains(t, cfg.GetDatabaseConnectionString(), "dbname=collab_sheets")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("STORE_DRIVER", DriverMemory)
	t.Setenv("COLLAB_SHEETS_CONFIG", "")
	os.Unsetenv("COLLAB_SHEETS_CONFIG")

	cfg := Load()
	assert.Equal(t, ":9999", cfg.GetServerAddr())
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
}

func TestLoad_YAMLFileOverridesEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"store_driver: sqlite\nsqlite_path: /tmp/test.sqlite3\n",
	), 0o644))

	t.Setenv("STORE_DRIVER", DriverMemory)
	t.Setenv("COLLAB_SHEETS_CONFIG", path)

	cfg := Load()
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "/tmp/test.sqlite3", cfg.SQLitePath)
}

func TestLoad_BadYAMLIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))

	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("COLLAB_SHEETS_CONFIG", path)

	cfg := Load()
	assert.Equal(t, ":7070", cfg.GetServerAddr())
}
