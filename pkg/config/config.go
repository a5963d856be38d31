// Package config loads the resource manager daemon's static configuration
// from a single YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration, loaded from a single YAML
// file at startup.
type Config struct {
	// DataDir holds the bbolt database file.
	DataDir string `yaml:"data_dir"`

	// LabelCacheSize bounds the manager's LRU label cache (pkg/manager
	// Options.LabelCacheSize); zero means the manager's own default.
	LabelCacheSize int `yaml:"label_cache_size"`

	// LogLevel is one of debug, info, warn, error (pkg/log.Level).
	LogLevel string `yaml:"log_level"`

	// LogJSON selects structured JSON logging over the console writer.
	LogJSON bool `yaml:"log_json"`

	// MetricsAddr is where /metrics, /health, /ready, /live are served.
	MetricsAddr string `yaml:"metrics_addr"`

	// ReapInterval and IdleTimeout configure pkg/reconciler.
	ReapInterval time.Duration `yaml:"reap_interval"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Default returns the configuration the dev harness runs with when no file
// is given.
func Default() *Config {
	return &Config{
		DataDir:        "./resourced-data",
		LabelCacheSize: 4096,
		LogLevel:       "info",
		LogJSON:        false,
		MetricsAddr:    "127.0.0.1:9090",
		ReapInterval:   30 * time.Second,
		IdleTimeout:    5 * time.Minute,
	}
}

// Load reads and parses a YAML config file, filling any field the file
// omits from Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
