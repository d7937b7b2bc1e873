// Package config loads configuration from an optional YAML file, an
// optional .env file and environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all playground configuration.
type Config struct {
	// Services
	StorageURL string `yaml:"storage_url"`
	SandboxURL string `yaml:"sandbox_url"`
	Token      string `yaml:"token"`

	// Session
	SessionAttempts   int           `yaml:"session_attempts"`
	SessionRetryDelay time.Duration `yaml:"session_retry_delay"`
	RunSettle         time.Duration `yaml:"run_settle"`
	SecureStream      bool          `yaml:"secure_stream"`

	// Content cache
	CacheDir     string `yaml:"cache_dir"`
	MaxCacheSize int64  `yaml:"max_cache_size"`

	// Transcripts (empty disables)
	TranscriptDB string `yaml:"transcript_db"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Metrics (empty disables)
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StorageURL:        "http://localhost:8080",
		SandboxURL:        "http://localhost:8080",
		SessionAttempts:   3,
		SessionRetryDelay: 2 * time.Second,
		RunSettle:         1500 * time.Millisecond,
		CacheDir:          filepath.Join(os.TempDir(), "swalang-cache"),
		MaxCacheSize:      256 * 1024 * 1024,
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

// Load builds the configuration. path names a YAML file; when empty,
// PLAYGROUND_CONFIG is consulted. A .env file in the working directory is
// loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("PLAYGROUND_CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.StorageURL = envOr("STORAGE_URL", c.StorageURL)
	c.SandboxURL = envOr("SANDBOX_URL", c.SandboxURL)
	c.Token = envOr("PLAYGROUND_TOKEN", c.Token)
	c.SessionAttempts = envInt("SESSION_ATTEMPTS", c.SessionAttempts)
	c.SessionRetryDelay = envDuration("SESSION_RETRY_DELAY", c.SessionRetryDelay)
	c.RunSettle = envDuration("RUN_SETTLE", c.RunSettle)
	c.SecureStream = envBool("SECURE_STREAM", c.SecureStream)
	c.CacheDir = envOr("CACHE_DIR", c.CacheDir)
	c.MaxCacheSize = envInt64("MAX_CACHE_SIZE", c.MaxCacheSize)
	c.TranscriptDB = envOr("TRANSCRIPT_DB", c.TranscriptDB)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.MetricsAddr = envOr("METRICS_ADDR", c.MetricsAddr)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.StorageURL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.SandboxURL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.SessionAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.SessionRetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.RunSettle, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxCacheSize, validation.Min(int64(0))),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.LogFormat, validation.In("json", "console")),
	)
}

func httpURL(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must be an http or https URL")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
