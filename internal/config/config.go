// Package config loads the n42 tool configuration from YAML.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/n42kit/core/channeldata"
	"github.com/FocuswithJustin/n42kit/internal/logging"
)

// Config holds the full n42 configuration.
type Config struct {
	DBPath     string `yaml:"db_path"`
	ArchiveDir string `yaml:"archive_dir"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	// SchemaCheck runs the embedded schema profile before reading documents.
	SchemaCheck bool `yaml:"validate"`
	// Workers bounds concurrent ingest. Zero means one per CPU.
	Workers int `yaml:"workers"`
	// DefaultCompression forces the ChannelData compression used by export:
	// "None" or "CountedZeroes". Empty keeps each spectrum's own.
	DefaultCompression string `yaml:"default_compression"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		DBPath:             "n42.db",
		ArchiveDir:         "n42-archive",
		LogLevel:           "info",
		LogFormat:          "text",
		SchemaCheck:        false,
		Workers:            0,
		DefaultCompression: "",
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// LoadOptional loads path when it is non-empty and returns defaults otherwise.
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.ArchiveDir == "" {
		return fmt.Errorf("archive_dir is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		return fmt.Errorf("log_format: %w", err)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	switch c.DefaultCompression {
	case "", "None", channeldata.CountedZeroesCode:
	default:
		return fmt.Errorf("unsupported default_compression %q (use None or CountedZeroes)", c.DefaultCompression)
	}
	return nil
}

// WorkerCount resolves Workers, defaulting to the number of CPUs.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Compression returns DefaultCompression as a channeldata.Compression, or
// false when export should keep each spectrum's own.
func (c *Config) Compression() (channeldata.Compression, bool) {
	if c.DefaultCompression == "" {
		return channeldata.None, false
	}
	return channeldata.ParseCompression(c.DefaultCompression), true
}
