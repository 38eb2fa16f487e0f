package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all declnerd configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// World scanner configuration
	World WorldConfig `yaml:"world"`

	// Fold pipeline configuration
	Fold FoldConfig `yaml:"fold"`

	// Declaration store configuration
	Store StoreConfig `yaml:"store"`

	// Filesystem watcher configuration
	Watch WatchConfig `yaml:"watch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// FoldConfig configures the folding pipeline.
type FoldConfig struct {
	// Parallelism caps concurrent class folds during a bulk fold.
	Parallelism int `yaml:"parallelism"`
}

// StoreConfig configures declaration persistence.
type StoreConfig struct {
	// DatabasePath is the SQLite database location, relative to the workspace
	// unless absolute.
	DatabasePath string `yaml:"database_path"`
}

// WatchConfig configures the filesystem watcher.
type WatchConfig struct {
	// Debounce is how long to wait after the last write before refolding.
	Debounce string `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "declnerd",
		Version: "0.4.0",

		World: DefaultWorldConfig(),

		Fold: FoldConfig{
			Parallelism: defaultParallelism(),
		},

		Store: StoreConfig{
			DatabasePath: ".declnerd/decls.db",
		},

		Watch: WatchConfig{
			Debounce: "500ms",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultParallelism() int {
	n := runtime.NumCPU()
	if n > 16 {
		n = 16
	}
	if n < 2 {
		n = 2
	}
	return n
}

// DefaultPath returns the config file location inside a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".declnerd", "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("DECLNERD_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if level := os.Getenv("DECLNERD_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if os.Getenv("DECLNERD_DEBUG") == "1" {
		c.Logging.DebugMode = true
	}
	if debounce := os.Getenv("DECLNERD_WATCH_DEBOUNCE"); debounce != "" {
		c.Watch.Debounce = debounce
	}
}

// GetDebounce returns the watch debounce as a duration.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetParallelism returns the fold parallelism, falling back to a CPU-based
// default when unset.
func (c *Config) GetParallelism() int {
	if c.Fold.Parallelism > 0 {
		return c.Fold.Parallelism
	}
	return defaultParallelism()
}

// DatabasePath resolves the store path against the workspace root.
func (c *Config) DatabasePath(workspace string) string {
	if filepath.IsAbs(c.Store.DatabasePath) {
		return c.Store.DatabasePath
	}
	return filepath.Join(workspace, c.Store.DatabasePath)
}

// ValidLevels lists all supported log levels.
var ValidLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Fold.Parallelism < 0 {
		return fmt.Errorf("fold parallelism must not be negative: %d", c.Fold.Parallelism)
	}

	if c.Watch.Debounce != "" {
		if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
			return fmt.Errorf("invalid watch debounce %q: %w", c.Watch.Debounce, err)
		}
	}

	if c.Logging.Level != "" {
		validLevel := false
		for _, l := range ValidLevels {
			if c.Logging.Level == l {
				validLevel = true
				break
			}
		}
		if !validLevel {
			return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLevels)
		}
	}

	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store database path not configured")
	}

	return nil
}
