package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PG_HOST", "PG_DB", "PG_PASSWORD", "DATA_FOLDER", "EXEC_INFO", "HASH_ALGO", "PG_MAX_OPEN_CONNS"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	assert.Equal(t, "localhost", c.PGHost)
	assert.Equal(t, "gis", c.PGDB)
	assert.Equal(t, "./data", c.DataFolder)
	assert.True(t, c.ExecInfo)
	assert.Equal(t, "sha256", c.HashAlgo)
	assert.Equal(t, 4, c.PGMaxOpen)
	assert.Equal(t, "postgres://postgres@localhost:5432/gis?sslmode=disable", c.PostgresDSN())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PG_PASSWORD", "pw")
	t.Setenv("PG_DB", "zones")
	t.Setenv("EXEC_INFO", "off")
	t.Setenv("GEOCODE_RPS", "0.5")
	t.Setenv("PG_MAX_OPEN_CONNS", "not-a-number")

	c := FromEnv()
	assert.Equal(t, "postgres://postgres:pw@localhost:5432/zones?sslmode=disable", c.PostgresDSN())
	assert.False(t, c.ExecInfo)
	assert.InDelta(t, 0.5, c.GeocodeRPS, 1e-9)
	assert.Equal(t, 4, c.PGMaxOpen)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DATA_FOLDER=/srv/gis\n"), 0o644))
	t.Setenv("DATA_FOLDER", "")
	require.NoError(t, os.Unsetenv("DATA_FOLDER"))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/gis", c.DataFolder)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
