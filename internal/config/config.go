// Package config provides configuration management for the crash processor.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrInvalidLogLevel          = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat         = errors.New("logging.format must be 'text' or 'json'")
	ErrInvalidMemoryReportLimit = errors.New("processor.memory_report_max_bytes must be at least 1")
	ErrInvalidJSONDumpLimit     = errors.New("processor.json_dump_max_bytes must be at least 1")
	ErrInvalidSignatureTimeout  = errors.New("processor.signature_timeout_sec must be at least 1")
	ErrInvalidVersionAPIURL     = errors.New("version_lookup.api_url must be an absolute http(s) URL")
	ErrInvalidCacheSize         = errors.New("version_lookup.cache_size must be at least 1")
	ErrInvalidCacheTTL          = errors.New("version_lookup.cache_ttl_sec must be non-negative")
	ErrInvalidMaxAttempts       = errors.New("retry.max_attempts must be at least 1")
	ErrInvalidInitialDelay      = errors.New("retry.initial_delay_ms must be non-negative")
	ErrInvalidBackoffMultiplier = errors.New("retry.backoff_multiplier must be >= 1.0")
	ErrInvalidTimeout           = errors.New("retry.timeout_sec must be at least 1")
	ErrInvalidStorageBackend    = errors.New("storage.backend must be 'fs' or 's3'")
	ErrMissingFSRoot            = errors.New("storage.fs.root is required for the fs backend")
	ErrMissingS3Endpoint        = errors.New("storage.s3.endpoint is required for the s3 backend")
	ErrMissingS3Bucket          = errors.New("storage.s3.bucket is required for the s3 backend")
	ErrInvalidConcurrency       = errors.New("worker.concurrency must be at least 1")
	ErrMissingListenAddr        = errors.New("metrics.listen_addr is required when metrics are enabled")
	ErrInvalidEnvValue          = errors.New("invalid environment value")
)

// Storage backends.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Config represents the complete processor configuration.
type Config struct {
	Logging       LoggingConfig       `yaml:"logging"`
	Processor     ProcessorConfig     `yaml:"processor"`
	VersionLookup VersionLookupConfig `yaml:"version_lookup"`
	Storage       StorageConfig       `yaml:"storage"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Worker        WorkerConfig        `yaml:"worker"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProcessorConfig bounds the work a single pipeline run may do.
type ProcessorConfig struct {
	MemoryReportMaxBytes int64 `yaml:"memory_report_max_bytes"`
	JSONDumpMaxBytes     int64 `yaml:"json_dump_max_bytes"`
	SignatureTimeoutSec  int   `yaml:"signature_timeout_sec"`
}

// VersionLookupConfig configures the beta version resolution service.
// An empty APIURL disables the lookup.
type VersionLookupConfig struct {
	APIURL      string      `yaml:"api_url"`
	Retry       RetryPolicy `yaml:"retry"`
	CacheSize   int         `yaml:"cache_size"`
	CacheTTLSec int         `yaml:"cache_ttl_sec"`
}

// RetryPolicy defines retry behavior.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	TimeoutSec        int     `yaml:"timeout_sec"`
}

// StorageConfig selects where raw crashes are read from and processed
// crashes are written to.
type StorageConfig struct {
	Backend  string         `yaml:"backend"`
	FS       FSConfig       `yaml:"fs"`
	S3       S3Config       `yaml:"s3"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// FSConfig configures the filesystem backend.
type FSConfig struct {
	Root string `yaml:"root"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// PostgresConfig configures the optional processed crash index.
// An empty DSN disables it.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Namespace  string `yaml:"namespace"`
	ListenAddr string `yaml:"listen_addr"`
	Enabled    bool   `yaml:"enabled"`
}

// WorkerConfig configures batch processing.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Default returns a configuration that validates without a file.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Processor: ProcessorConfig{
			MemoryReportMaxBytes: 20 * 1024 * 1024,
			JSONDumpMaxBytes:     50 * 1024 * 1024,
			SignatureTimeoutSec:  10,
		},
		VersionLookup: VersionLookupConfig{
			Retry: RetryPolicy{
				MaxAttempts:       2,
				InitialDelayMs:    200,
				MaxDelayMs:        2000,
				BackoffMultiplier: 2.0,
				TimeoutSec:        5,
			},
			CacheSize:   1024,
			CacheTTLSec: 3600,
		},
		Storage: StorageConfig{
			Backend: BackendFS,
			FS:      FSConfig{Root: "./crashdata"},
			S3:      S3Config{Region: "us-east-1"},
		},
		Metrics: MetricsConfig{
			Namespace:  "crashproc",
			ListenAddr: ":9102",
		},
		Worker: WorkerConfig{
			Concurrency: 4,
		},
	}
}

// LoadConfig loads configuration from a YAML file on top of Default.
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Load reads the YAML file at path (Default when path is empty), overlays
// the environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}

		cfg = loaded
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves configuration to YAML file.
func (c *Config) SaveConfig(filepath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overlays CRASHPROC_* environment variables, reading a .env file
// from the working directory first when one exists.
func (c *Config) ApplyEnv() error {
	_ = godotenv.Load()

	c.Logging.Level = firstNonEmpty(env("CRASHPROC_LOG_LEVEL"), c.Logging.Level)
	c.Logging.Format = firstNonEmpty(env("CRASHPROC_LOG_FORMAT"), c.Logging.Format)
	c.VersionLookup.APIURL = firstNonEmpty(env("CRASHPROC_VERSION_API"), c.VersionLookup.APIURL)
	c.Storage.Backend = firstNonEmpty(env("CRASHPROC_STORAGE_BACKEND"), c.Storage.Backend)
	c.Storage.FS.Root = firstNonEmpty(env("CRASHPROC_FS_ROOT"), c.Storage.FS.Root)
	c.Storage.S3.Endpoint = firstNonEmpty(env("CRASHPROC_S3_ENDPOINT"), c.Storage.S3.Endpoint)
	c.Storage.S3.Region = firstNonEmpty(env("CRASHPROC_S3_REGION"), c.Storage.S3.Region)
	c.Storage.S3.AccessKey = firstNonEmpty(env("CRASHPROC_S3_ACCESS_KEY"), c.Storage.S3.AccessKey)
	c.Storage.S3.SecretKey = firstNonEmpty(env("CRASHPROC_S3_SECRET_KEY"), c.Storage.S3.SecretKey)
	c.Storage.S3.Bucket = firstNonEmpty(env("CRASHPROC_S3_BUCKET"), c.Storage.S3.Bucket)
	c.Storage.Postgres.DSN = firstNonEmpty(env("CRASHPROC_PG_DSN"), c.Storage.Postgres.DSN)

	if v := env("CRASHPROC_S3_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: CRASHPROC_S3_USE_SSL=%q", ErrInvalidEnvValue, v)
		}

		c.Storage.S3.UseSSL = b
	}

	if v := env("CRASHPROC_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: CRASHPROC_WORKERS=%q", ErrInvalidEnvValue, v)
		}

		c.Worker.Concurrency = n
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return ErrInvalidLogFormat
	}

	if c.Processor.MemoryReportMaxBytes < 1 {
		return ErrInvalidMemoryReportLimit
	}

	if c.Processor.JSONDumpMaxBytes < 1 {
		return ErrInvalidJSONDumpLimit
	}

	if c.Processor.SignatureTimeoutSec < 1 {
		return ErrInvalidSignatureTimeout
	}

	if err := c.VersionLookup.validate(); err != nil {
		return err
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency < 1 {
		return ErrInvalidConcurrency
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return ErrMissingListenAddr
	}

	return nil
}

func (v *VersionLookupConfig) validate() error {
	if v.APIURL != "" {
		u, err := url.Parse(v.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidVersionAPIURL, v.APIURL)
		}
	}

	if v.CacheSize < 1 {
		return ErrInvalidCacheSize
	}

	if v.CacheTTLSec < 0 {
		return ErrInvalidCacheTTL
	}

	return v.Retry.Validate()
}

func (s *StorageConfig) validate() error {
	switch s.Backend {
	case BackendFS:
		if s.FS.Root == "" {
			return ErrMissingFSRoot
		}
	case BackendS3:
		if s.S3.Endpoint == "" {
			return ErrMissingS3Endpoint
		}

		if s.S3.Bucket == "" {
			return ErrMissingS3Bucket
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStorageBackend, s.Backend)
	}

	return nil
}

// Validate checks the retry policy bounds.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if rp.InitialDelayMs < 0 {
		return ErrInvalidInitialDelay
	}

	if rp.BackoffMultiplier < 1.0 {
		return ErrInvalidBackoffMultiplier
	}

	if rp.TimeoutSec < 1 {
		return ErrInvalidTimeout
	}

	return nil
}

// GetRetryDelay calculates exponential backoff delay for attempt number.
func (rp *RetryPolicy) GetRetryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delayMs := float64(rp.InitialDelayMs)
	for i := 1; i < attempt; i++ {
		delayMs *= rp.BackoffMultiplier
	}

	// Cap at max delay
	if int(delayMs) > rp.MaxDelayMs {
		delayMs = float64(rp.MaxDelayMs)
	}

	return time.Duration(int(delayMs)) * time.Millisecond
}

// GetTimeout returns the timeout duration.
func (rp *RetryPolicy) GetTimeout() time.Duration {
	return time.Duration(rp.TimeoutSec) * time.Second
}

// CacheTTL returns the version cache entry lifetime.
func (v *VersionLookupConfig) CacheTTL() time.Duration {
	return time.Duration(v.CacheTTLSec) * time.Second
}

// SignatureTimeout returns the bound on one signature generation call.
func (p *ProcessorConfig) SignatureTimeout() time.Duration {
	return time.Duration(p.SignatureTimeoutSec) * time.Second
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Backend: %s, Workers: %d, VersionAPI: %q, Metrics: %t}",
		c.Storage.Backend,
		c.Worker.Concurrency,
		c.VersionLookup.APIURL,
		c.Metrics.Enabled,
	)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
