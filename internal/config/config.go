// Package config loads runtime configuration for mediaforged.
//
// Configuration comes from three layers: built-in defaults, an optional
// YAML file, and environment variables. Later layers win.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the daemon.
type Config struct {
	// LogLevel sets the zerolog level ("debug", "info", ...).
	LogLevel string `yaml:"log_level"`

	// QueueConcurrency is the number of workers started per queue tier.
	QueueConcurrency int `yaml:"queue_concurrency"`

	// JobTimeout is the per-job execution deadline.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// JobMaxRetries is the number of broker delivery attempts before
	// an entry moves to the dead-letter set.
	JobMaxRetries int `yaml:"job_max_retries"`

	// RetentionDays controls result media expiry (expiresAt = now + RetentionDays).
	RetentionDays int `yaml:"retention_days"`

	Redis  RedisConfig  `yaml:"redis"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Object ObjectConfig `yaml:"object_store"`

	// OpsListen is the listen address of the operator HTTP surface.
	OpsListen string `yaml:"ops_listen"`

	// OTLPEndpoint enables trace export when non-empty.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// RedisConfig holds broker connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// DialTimeout bounds connection establishment to the broker.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// SQLiteConfig holds metadata store settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// ObjectConfig selects and configures the object store backend.
type ObjectConfig struct {
	// Backend is "s3" or "fs".
	Backend string `yaml:"backend"`

	// FSRoot is the blob root directory for the fs backend.
	FSRoot string `yaml:"fs_root"`

	S3 S3Config `yaml:"s3"`
}

// S3Config holds S3-compatible endpoint settings.
type S3Config struct {
	Endpoint       string `yaml:"endpoint"`
	Region         string `yaml:"region"`
	Bucket         string `yaml:"bucket"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel:         "info",
		QueueConcurrency: 5,
		JobTimeout:       300 * time.Second,
		JobMaxRetries:    3,
		RetentionDays:    30,
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			DialTimeout: 5 * time.Second,
		},
		SQLite: SQLiteConfig{
			Path: "mediaforge.db",
		},
		Object: ObjectConfig{
			Backend: "fs",
			FSRoot:  "blobs",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		OpsListen: ":8484",
	}
}

// Load builds the effective configuration: defaults, then the optional
// YAML file at path (empty path skips the file layer), then environment.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = ParseString("LOG_LEVEL", c.LogLevel)
	c.QueueConcurrency = ParseInt("QUEUE_CONCURRENCY", c.QueueConcurrency)
	c.JobTimeout = time.Duration(ParseInt("JOB_TIMEOUT_MS", int(c.JobTimeout.Milliseconds()))) * time.Millisecond
	c.JobMaxRetries = ParseInt("JOB_MAX_RETRIES", c.JobMaxRetries)
	c.RetentionDays = ParseInt("DEFAULT_RETENTION_DAYS", c.RetentionDays)

	c.Redis.Addr = ParseString("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = ParseString("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = ParseInt("REDIS_DB", c.Redis.DB)
	c.Redis.DialTimeout = ParseDuration("REDIS_DIAL_TIMEOUT", c.Redis.DialTimeout)

	c.SQLite.Path = ParseString("SQLITE_PATH", c.SQLite.Path)

	c.Object.Backend = ParseString("OBJECT_STORE", c.Object.Backend)
	c.Object.FSRoot = ParseString("FS_STORE_ROOT", c.Object.FSRoot)
	c.Object.S3.Endpoint = ParseString("S3_ENDPOINT", c.Object.S3.Endpoint)
	c.Object.S3.Region = ParseString("S3_REGION", c.Object.S3.Region)
	c.Object.S3.Bucket = ParseString("S3_BUCKET", c.Object.S3.Bucket)
	c.Object.S3.AccessKey = ParseString("S3_ACCESS_KEY", c.Object.S3.AccessKey)
	c.Object.S3.SecretKey = ParseString("S3_SECRET_KEY", c.Object.S3.SecretKey)
	c.Object.S3.ForcePathStyle = ParseBool("S3_FORCE_PATH_STYLE", c.Object.S3.ForcePathStyle)

	c.OpsListen = ParseString("OPS_LISTEN", c.OpsListen)
	c.OTLPEndpoint = ParseString("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.QueueConcurrency < 1 {
		return fmt.Errorf("config: queue_concurrency must be >= 1, got %d", c.QueueConcurrency)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("config: job_timeout must be positive, got %s", c.JobTimeout)
	}
	if c.JobMaxRetries < 0 {
		return fmt.Errorf("config: job_max_retries must be >= 0, got %d", c.JobMaxRetries)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("config: retention_days must be >= 1, got %d", c.RetentionDays)
	}
	switch c.Object.Backend {
	case "fs":
		if c.Object.FSRoot == "" {
			return fmt.Errorf("config: fs object store requires fs_root")
		}
	case "s3":
		if c.Object.S3.Bucket == "" {
			return fmt.Errorf("config: s3 object store requires a bucket")
		}
	default:
		return fmt.Errorf("config: unknown object store backend %q", c.Object.Backend)
	}
	return nil
}
