package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7466", cfg.Listen)
	assert.True(t, cfg.Keeper.Enabled)
	assert.False(t, cfg.Faucet.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
listen: 0.0.0.0:9000
db_path: /var/lib/escrowd/ledger.db
log:
  level: debug
  format: json
faucet:
  enabled: true
  max_amount: 5000
keeper:
  interval: 5s
  global_max: 8
auth:
  max_skew: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "/var/lib/escrowd/ledger.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Faucet.Enabled)
	assert.Equal(t, uint64(5000), cfg.Faucet.MaxAmount)
	assert.Equal(t, 5*time.Second, cfg.Keeper.Interval)
	assert.Equal(t, 8, cfg.Keeper.GlobalMax)
	assert.True(t, cfg.Keeper.Enabled, "unset keys keep their defaults")
	assert.Equal(t, time.Minute, cfg.Auth.MaxSkew)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
listen = "127.0.0.1:8123"

[log]
level = "warn"

[keeper]
enabled = false

[auth]
max_skew = "30s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8123", cfg.Listen)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Keeper.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Auth.MaxSkew)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "keeper:\n  global_max: 0\n")
	_, err := Load(bad)
	assert.ErrorContains(t, err, "global_max")

	level := filepath.Join(dir, "level.toml")
	writeFile(t, level, "[log]\nlevel = \"loud\"\n")
	_, err = Load(level)
	assert.Error(t, err)

	ini := filepath.Join(dir, "config.ini")
	writeFile(t, ini, "listen=x")
	_, err = Load(ini)
	assert.ErrorContains(t, err, "unsupported")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Listen = "127.0.0.1:1"
	cfg.Keeper.Interval = time.Minute
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1", loaded.Listen)
	assert.Equal(t, time.Minute, loaded.Keeper.Interval)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}
