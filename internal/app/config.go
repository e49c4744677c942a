package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/platform/cache"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/upload"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"150s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"140s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	BackendURL            string        `envconfig:"BACKEND_URL" required:"true"`
	BackendAnonKey        string        `envconfig:"BACKEND_ANON_KEY" required:"true"`
	BackendServiceKey     string        `envconfig:"BACKEND_SERVICE_KEY"`
	BackendTimeout        time.Duration `envconfig:"BACKEND_TIMEOUT" default:"30s"`
	BackendRefreshTimeout time.Duration `envconfig:"BACKEND_REFRESH_TIMEOUT" default:"120s"`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"4"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"168h"`

	CSRFSecret string `envconfig:"CSRF_SECRET" required:"true"`

	CacheBackend string        `envconfig:"CACHE_BACKEND" default:"memory"`
	CacheTTL     time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	UploadMaxBytes  int64 `envconfig:"UPLOAD_MAX_BYTES" default:"52428800"`
	UploadMaxRows   int   `envconfig:"UPLOAD_MAX_ROWS" default:"200000"`
	UploadBatchSize int   `envconfig:"UPLOAD_BATCH_SIZE" default:"500"`

	IngestTokenHash   string   `envconfig:"INGEST_TOKEN_HASH"`
	MaterializedViews []string `envconfig:"MATERIALIZED_VIEWS"`

	// AsyncRefresh routes refreshes through the job queue instead of running
	// them inside the API process.
	AsyncRefresh      bool   `envconfig:"ASYNC_REFRESH" default:"true"`
	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"2"`
	WorkerMetricsAddr string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules envconfig cannot express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BackendURL) == "" || c.BackendAnonKey == "" {
		return errors.New("backend url and anon key must be provided")
	}
	if c.SessionSecret == "" {
		return errors.New("session secret must be provided")
	}
	if c.CSRFSecret == "" {
		return errors.New("csrf secret must be provided")
	}
	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
	switch c.CacheBackend {
	case CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", CacheMemory, CacheRedis, c.CacheBackend)
	}
	if c.BackendRefreshTimeout < c.BackendTimeout {
		return errors.New("BACKEND_REFRESH_TIMEOUT must not be shorter than BACKEND_TIMEOUT")
	}
	if c.UploadBatchSize <= 0 || c.UploadMaxRows <= 0 || c.UploadMaxBytes <= 0 {
		return errors.New("upload limits must be positive")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// Backend returns the backend client configuration.
func (c *Config) Backend() backend.Config {
	return backend.Config{
		URL:            c.BackendURL,
		AnonKey:        c.BackendAnonKey,
		ServiceKey:     c.BackendServiceKey,
		Timeout:        c.BackendTimeout,
		RefreshTimeout: c.BackendRefreshTimeout,
	}
}

// Redis returns the Redis connection options.
func (c *Config) Redis() cache.Options {
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// UploadLimits returns the spreadsheet limits.
func (c *Config) UploadLimits() upload.Limits {
	return upload.Limits{MaxBytes: c.UploadMaxBytes, MaxRows: c.UploadMaxRows, BatchSize: c.UploadBatchSize}
}
