// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Execution modes for streamed commands.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Config holds the application configuration.
type Config struct {
	// ChunkSize is the read capacity per pipe read, in bytes.
	ChunkSize int `yaml:"chunk_size"`
	// PreserveLineEndings keeps terminators on emitted lines.
	PreserveLineEndings bool `yaml:"preserve_line_endings"`
	// Mode selects sync or async command execution.
	Mode string `yaml:"mode"`
	// GitPath is the git binary used by repository commands.
	GitPath string `yaml:"git_path"`
	// Debug lets spawned children inherit stderr for diagnostics.
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize: 4096,
		Mode:      ModeSync,
		GitPath:   "git",
	}
}

// Load reads configuration from the given path. A missing file is not an
// error; defaults apply.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.ChunkSize == 0 {
		c.ChunkSize = defaults.ChunkSize
	}
	if c.Mode == "" {
		c.Mode = defaults.Mode
	}
	if c.GitPath == "" {
		c.GitPath = defaults.GitPath
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.Mode != ModeSync && c.Mode != ModeAsync {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeSync, ModeAsync, c.Mode)
	}
	if c.GitPath == "" {
		return fmt.Errorf("git_path cannot be empty")
	}
	return nil
}
