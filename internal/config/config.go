// Package config loads domesync's on-disk configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a domesync session.
type Config struct {
	// ProjectPath is the path to the root .project.json file. A directory
	// given here is served as a plain directory; it is not searched for a
	// project file. Overridable on the command line.
	ProjectPath string `yaml:"project_path"`

	VFS       VFSConfig       `yaml:"vfs"`
	Processor ProcessorConfig `yaml:"processor"`
	Queue     QueueConfig     `yaml:"queue"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
}

// VFSConfig selects and tunes the filesystem backend.
type VFSConfig struct {
	// Backend is "os" (real filesystem, fsnotify-backed) or "memory"
	// (deterministic, for tests/fixtures).
	Backend string `yaml:"backend"`
}

// ProcessorConfig tunes the Change Processor (spec §4.5, §9 Open Question).
type ProcessorConfig struct {
	// DebounceWindow coalesces events for the same or overlapping paths.
	DebounceWindow time.Duration `yaml:"debounce_window"`
	// RetryAttempts bounds the attempts (first try included) made for a
	// recompute that fails with a transient IO error.
	RetryAttempts int `yaml:"retry_attempts"`
	// RetryBackoff is the base delay between retry attempts.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// QueueConfig tunes the Message Queue (spec §4.6).
type QueueConfig struct {
	// Window bounds how many batches are retained before compaction.
	Window int `yaml:"window"`
	// MaxSubscribeTimeout caps how long subscribe_from may suspend.
	MaxSubscribeTimeout time.Duration `yaml:"max_subscribe_timeout"`
}

// CacheConfig tunes the snapshot recompute memoization cache (SPEC_FULL §4.2).
type CacheConfig struct {
	// Enabled turns on the SQLite-backed recompute cache.
	Enabled bool `yaml:"enabled"`
	// Path is the SQLite database file. Empty disables persistence
	// across process restarts (an in-memory database is used instead).
	Path string `yaml:"path"`
}

// LogConfig tunes ambient logging.
type LogConfig struct {
	Level string `yaml:"level"`
	Color string `yaml:"color"` // "auto", "always", "never"
}

// Default returns a Config with the defaults named in spec.md §9:
// a debounce window and retry budget "in the tens of milliseconds / three
// attempts range".
func Default() *Config {
	return &Config{
		VFS: VFSConfig{
			Backend: "os",
		},
		Processor: ProcessorConfig{
			DebounceWindow: 70 * time.Millisecond,
			RetryAttempts:  3,
			RetryBackoff:   25 * time.Millisecond,
		},
		Queue: QueueConfig{
			Window:              256,
			MaxSubscribeTimeout: 60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    "",
		},
		Log: LogConfig{
			Level: "info",
			Color: "auto",
		},
	}
}

// Load loads configuration using the real environment.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, so tests can supply isolated environment values.
func LoadWithEnv(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	resolved := path
	if resolved == "" {
		resolved = pathWithEnv(getenv)
	}

	if data, err := os.ReadFile(resolved); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", resolved, err)
		}
	} else if path != "" && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %q: %w", resolved, err)
	}

	if project := getenv("DOMESYNC_PROJECT"); project != "" {
		cfg.ProjectPath = project
	}

	return cfg, nil
}

func pathWithEnv(getenv func(string) string) string {
	if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "domesync", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "domesync", "config.yaml")
}
