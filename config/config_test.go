package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Storage.File.Enabled)
	assert.Equal(t, "data/points.json", cfg.Storage.File.Path)
	assert.Equal(t, DriverNone, cfg.Storage.Remote.Driver)
	assert.Equal(t, 5*time.Second, cfg.Storage.CallTimeout)
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	// GIVEN: A config file that sets only some fields
	// WHEN: Loading it
	// THEN: Set fields win and everything else keeps its default

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ledger:
  opening_balance: 13
storage:
  call_timeout: 3s
  remote:
    driver: mysql
    dsn: "points:secret@tcp(db:3306)/points?parseTime=true"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(13), cfg.Ledger.OpeningBalance)
	assert.Equal(t, 3*time.Second, cfg.Storage.CallTimeout)
	assert.Equal(t, DriverMySQL, cfg.Storage.Remote.Driver)
	assert.Equal(t, 8080, cfg.Server.Port, "default kept")
	assert.Equal(t, "data/points.json", cfg.Storage.File.Path, "default kept")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":                   "9090",
		"POINTS_REMOTE_DRIVER":   "redis",
		"POINTS_REDIS_ADDR":      "cache:6379",
		"POINTS_DATA_FILE":       "",
		"POINTS_OPENING_BALANCE": "-4",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverRedis, cfg.Storage.Remote.Driver)
	assert.Equal(t, "cache:6379", cfg.Storage.Remote.Redis.Address)
	assert.False(t, cfg.Storage.File.Enabled, "empty data file disables the file backend")
	assert.Equal(t, int64(-4), cfg.Ledger.OpeningBalance)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "PORT" {
			return "eighty", true
		}
		return "", false
	})
	assert.ErrorContains(t, err, "PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"node id", func(c *Config) { c.Ledger.NodeID = 2048 }, "ledger.node_id"},
		{"driver", func(c *Config) { c.Storage.Remote.Driver = "mongo" }, "storage.remote.driver"},
		{"sql dsn", func(c *Config) { c.Storage.Remote.Driver = DriverPostgres }, "storage.remote.dsn"},
		{"redis address", func(c *Config) { c.Storage.Remote.Driver = DriverRedis }, "redis.address"},
		{"file path", func(c *Config) { c.Storage.File.Path = "" }, "storage.file.path"},
		{"timeout", func(c *Config) { c.Storage.CallTimeout = -time.Second }, "call_timeout"},
		{"reconcile interval", func(c *Config) { c.Storage.File.ReconcileInterval = -time.Minute }, "reconcile_interval"},
		{"upload driver", func(c *Config) { c.Upload.Driver = "s3" }, "upload.driver"},
		{"oss bucket", func(c *Config) { c.Upload.Driver = UploadOSS }, "upload.oss.bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
