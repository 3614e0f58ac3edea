// Package config loads client configuration from a TOML file.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config carries client defaults and storage backend selection.
type Config struct {
	// BaseURL is the delta endpoint root. Empty selects the built-in
	// default.
	BaseURL string `toml:"base_url"`

	// PageSize is the default page size ($top). Zero means remote default.
	PageSize int `toml:"page_size"`

	// MaxRetries is the transient-failure attempt ceiling.
	MaxRetries int `toml:"max_retries"`

	// MaxConcurrentRequests caps in-flight page requests.
	MaxConcurrentRequests int `toml:"max_concurrent_requests"`

	// RequestRate is the proactive throttle in requests/second.
	RequestRate float64 `toml:"request_rate"`

	// Verbose enables diagnostic logging.
	Verbose bool `toml:"verbose"`

	// Storage selects and parameterises the token store backend.
	Storage StorageConfig `toml:"storage"`
}

// StorageConfig selects a token store backend.
type StorageConfig struct {
	// Backend is one of "file", "sqlite", "s3", "memory" or "none".
	// Empty selects "file".
	Backend string `toml:"backend"`

	// Path is the directory (file backend) or database path (sqlite).
	Path string `toml:"path"`

	// Bucket, Region and Prefix parameterise the s3 backend.
	Bucket string `toml:"bucket"`
	Region string `toml:"region"`
	Prefix string `toml:"prefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: StorageConfig{Backend: "file"},
	}
}

// Load reads a TOML configuration file. Unset keys keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}
