package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CacheFileName is the default name of the cache file
const CacheFileName = ".cutthelog"

// Config holds all configuration for the application
type Config struct {
	// Cache settings
	CacheFile      string        `yaml:"cache_file"`
	CacheBackend   string        `yaml:"cache_backend"`   // "text" or "bolt"
	CacheDelimiter string        `yaml:"cache_delimiter"` // text backend field separator
	LockTimeout    time.Duration `yaml:"lock_timeout"`    // 0 disables the cache lock

	// Observability
	LogLevel string        `yaml:"log_level"`
	LogFile  string        `yaml:"log_file"`
	Tracing  TracingConfig `yaml:"tracing"`
}

// TracingConfig holds OpenTelemetry exporter settings
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		CacheBackend:   "text",
		CacheDelimiter: "##",
		LockTimeout:    5 * time.Second,
		LogLevel:       "warn",
		Tracing: TracingConfig{
			Protocol: "grpc",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in increasing order of precedence.
// An empty path falls back to CUTTHELOG_CONFIG; a missing file is an error
// only when a path was given.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CUTTHELOG_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if cfg.CacheFile == "" {
		cfg.CacheFile = DefaultCacheFile()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile merges a YAML file into c
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides values with CUTTHELOG_* environment variables
func (c *Config) applyEnv() {
	c.CacheFile = getEnv("CUTTHELOG_CACHE_FILE", c.CacheFile)
	c.CacheBackend = getEnv("CUTTHELOG_CACHE_BACKEND", c.CacheBackend)
	c.CacheDelimiter = getEnv("CUTTHELOG_CACHE_DELIMITER", c.CacheDelimiter)
	c.LockTimeout = getEnvDuration("CUTTHELOG_LOCK_TIMEOUT", c.LockTimeout)

	c.LogLevel = getEnv("CUTTHELOG_LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("CUTTHELOG_LOG_FILE", c.LogFile)

	c.Tracing.Enabled = getEnvBool("CUTTHELOG_TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnv("CUTTHELOG_TRACING_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Protocol = getEnv("CUTTHELOG_TRACING_PROTOCOL", c.Tracing.Protocol)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.CacheFile == "" {
		return fmt.Errorf("cache file is required")
	}
	switch c.CacheBackend {
	case "text", "bolt":
	default:
		return fmt.Errorf("cache backend must be 'text' or 'bolt', got %q", c.CacheBackend)
	}
	if c.CacheDelimiter == "" {
		return fmt.Errorf("cache delimiter must not be empty")
	}
	if strings.ContainsAny(c.CacheDelimiter, "\r\n") {
		return fmt.Errorf("cache delimiter must not contain line breaks")
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("lock timeout must not be negative")
	}
	if c.Tracing.Enabled && c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		return fmt.Errorf("tracing protocol must be 'grpc' or 'http', got %q", c.Tracing.Protocol)
	}

	return nil
}

// DefaultCacheFile returns ./.cutthelog when it already exists, otherwise
// the file of the same name in the home directory
func DefaultCacheFile() string {
	if info, err := os.Stat(CacheFileName); err == nil && !info.IsDir() {
		if abs, err := filepath.Abs(CacheFileName); err == nil {
			return abs
		}
		return CacheFileName
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return CacheFileName
	}
	return filepath.Join(home, CacheFileName)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
