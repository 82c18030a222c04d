package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbank-server/examtype"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerPort)
	assert.Equal(t, 10*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 30*time.Second, cfg.HealthInterval)
	assert.Equal(t, "exclude_locked", cfg.Selection.RandomLockPolicy)
	assert.Equal(t, "any", cfg.Selection.DifficultyLockPolicy)

	assert.Equal(t, "release", cfg.GinMode)
	_, err = cfg.Stores()
	assert.ErrorContains(t, err, "ALLOW_MEMORY_STORE", "release mode must not fall back to memory silently")
}

func TestMemoryStoreOutsideRelease(t *testing.T) {
	t.Setenv("QBANK_GIN_MODE", "debug")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	stores, err := cfg.Stores()
	require.NoError(t, err)
	assert.Equal(t, "memory", stores[examtype.JEE].Driver)
	assert.Equal(t, "memory", stores[examtype.NEET].Driver)
}

func TestMemoryStoreAllowedInRelease(t *testing.T) {
	t.Setenv("QBANK_ALLOW_MEMORY_STORE", "true")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	stores, err := cfg.Stores()
	require.NoError(t, err)
	assert.Len(t, stores, 2)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
SERVER_PORT: ":9090"
STORE_TIMEOUT: 3s
EXAMS:
  JEE:
    DRIVER: postgres
    URI: postgres://qbank@localhost/jee
  NEET:
    DRIVER: MongoDB
    URI: mongodb://localhost:27017
    DATABASE: neet
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("QBANK_SERVER_PORT", ":7070")
	t.Setenv("QBANK_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.ServerPort)
	assert.Equal(t, 3*time.Second, cfg.StoreTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	stores, err := cfg.Stores()
	require.NoError(t, err)
	assert.Equal(t, StoreConfig{Driver: "postgres", URI: "postgres://qbank@localhost/jee"}, stores[examtype.JEE])
	assert.Equal(t, StoreConfig{Driver: "mongo", URI: "mongodb://localhost:27017", Database: "neet"}, stores[examtype.NEET])
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("QBANK_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("QBANK_LOG_LEVEL") })

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestStoresRejects(t *testing.T) {
	cases := map[string]map[string]StoreConfig{
		"empty":        {},
		"unknown exam": {"GATE": {Driver: "memory"}},
		"bad driver":   {"JEE": {Driver: "sqlite", URI: "file:x"}},
		"missing uri":  {"JEE": {Driver: "postgres"}},
		"twice":        {"jee": {Driver: "memory"}, "jee main": {Driver: "memory"}},
	}
	for name, exams := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{Exams: exams}
			_, err := cfg.Stores()
			assert.Error(t, err)
		})
	}
}
