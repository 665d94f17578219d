/*
Package config loads the service configuration.

SOURCES (later wins):
  1. Default()
  2. YAML file given with --config
  3. Environment: PORT, POINTS_REMOTE_DRIVER, POINTS_REMOTE_DSN,
     POINTS_REDIS_ADDR, POINTS_DATA_FILE, POINTS_OPENING_BALANCE
  4. Command-line flags (applied by cmd/server)

EXAMPLE (config.yaml):
  server:
    port: 8080
    static_dir: ./public
  ledger:
    opening_balance: 13
    node_id: 1
  storage:
    call_timeout: 3s
    remote:
      driver: mysql
      dsn: "points:secret@tcp(db:3306)/points?parseTime=true"
    file:
      enabled: true
      path: data/points.json
      reconcile_interval: 1h
  upload:
    driver: local
    dir: uploads
  log:
    level: info
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server  Server  `yaml:"server"`
	Ledger  Ledger  `yaml:"ledger"`
	Storage Storage `yaml:"storage"`
	Upload  Upload  `yaml:"upload"`
	Log     Log     `yaml:"log"`
}

type Server struct {
	Port           int      `yaml:"port"`
	StaticDir      string   `yaml:"static_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Ledger struct {
	OpeningBalance int64 `yaml:"opening_balance"`
	// NodeID is the snowflake node; distinct per process sharing a store.
	NodeID int64 `yaml:"node_id"`
}

type Storage struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
	Remote      Remote        `yaml:"remote"`
	File        File          `yaml:"file"`
}

// Remote configures the preferred backend. An empty driver means none.
type Remote struct {
	Driver       string `yaml:"driver"` // mysql | postgres | sqlite | redis
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	Redis        Redis  `yaml:"redis"`
}

type Redis struct {
	Address   string `yaml:"address"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Database  int    `yaml:"database"`
	KeyPrefix string `yaml:"key_prefix"`
}

type File struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// ReconcileInterval rewrites the document periodically. Zero disables it.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

type Upload struct {
	Driver    string `yaml:"driver"` // local | oss
	Dir       string `yaml:"dir"`
	URLPrefix string `yaml:"url_prefix"`
	OSS       OSS    `yaml:"oss"`
}

// OSS configures Alibaba Cloud object storage. Credentials come from the
// OSS_ACCESS_KEY_ID / OSS_ACCESS_KEY_SECRET environment variables.
type OSS struct {
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	PublicBaseURL string `yaml:"public_base_url"`
	KeyPrefix     string `yaml:"key_prefix"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Remote driver names.
const (
	DriverNone     = ""
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

// Upload driver names.
const (
	UploadLocal = "local"
	UploadOSS   = "oss"
)

// Default returns a configuration that runs with no external services.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:           8080,
			StaticDir:      "./public",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Storage: Storage{
			CallTimeout: 5 * time.Second,
			File: File{
				Enabled:           true,
				Path:              "data/points.json",
				ReconcileInterval: time.Hour,
			},
		},
		Upload: Upload{
			Driver:    UploadLocal,
			Dir:       "uploads",
			URLPrefix: "/uploads",
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("POINTS_REMOTE_DRIVER"); ok {
		c.Storage.Remote.Driver = v
	}
	if v, ok := lookup("POINTS_REMOTE_DSN"); ok {
		c.Storage.Remote.DSN = v
	}
	if v, ok := lookup("POINTS_REDIS_ADDR"); ok {
		c.Storage.Remote.Redis.Address = v
	}
	if v, ok := lookup("POINTS_DATA_FILE"); ok {
		c.Storage.File.Path = v
		c.Storage.File.Enabled = v != ""
	}
	if v, ok := lookup("POINTS_OPENING_BALANCE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("POINTS_OPENING_BALANCE: %w", err)
		}
		c.Ledger.OpeningBalance = n
	}
	return nil
}

// Validate checks the values a typo would most likely break.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Ledger.NodeID < 0 || c.Ledger.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("ledger.node_id %d out of range 0-1023", c.Ledger.NodeID))
	}
	drivers := []string{DriverNone, DriverMySQL, DriverPostgres, DriverSQLite, DriverRedis}
	if !slices.Contains(drivers, c.Storage.Remote.Driver) {
		errs = append(errs, fmt.Errorf("storage.remote.driver %q not one of %v", c.Storage.Remote.Driver, drivers[1:]))
	}
	switch c.Storage.Remote.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
		if c.Storage.Remote.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.remote.dsn required for driver %q", c.Storage.Remote.Driver))
		}
	case DriverRedis:
		if c.Storage.Remote.Redis.Address == "" {
			errs = append(errs, errors.New("storage.remote.redis.address required for driver \"redis\""))
		}
	}
	if c.Storage.File.Enabled && c.Storage.File.Path == "" {
		errs = append(errs, errors.New("storage.file.path required when file storage is enabled"))
	}
	if c.Storage.CallTimeout < 0 {
		errs = append(errs, errors.New("storage.call_timeout must not be negative"))
	}
	if c.Storage.File.ReconcileInterval < 0 {
		errs = append(errs, errors.New("storage.file.reconcile_interval must not be negative"))
	}
	switch c.Upload.Driver {
	case UploadLocal:
		if c.Upload.Dir == "" {
			errs = append(errs, errors.New("upload.dir required for local uploads"))
		}
	case UploadOSS:
		if c.Upload.OSS.Bucket == "" || c.Upload.OSS.Region == "" {
			errs = append(errs, errors.New("upload.oss.bucket and upload.oss.region required for oss uploads"))
		}
	default:
		errs = append(errs, fmt.Errorf("upload.driver %q not one of [local oss]", c.Upload.Driver))
	}
	return errors.Join(errs...)
}
