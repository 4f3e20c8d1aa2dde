// Package config provides configuration types and defaults for croc.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/croc/internal/engine"
	"github.com/zjrosen/croc/internal/log"
	"github.com/zjrosen/croc/internal/tracing"
)

// Config holds all configuration options for croc.
type Config struct {
	// DataDir is the root directory for project event logs.
	// Default: ~/.croc/projects
	DataDir string `mapstructure:"data_dir"`

	// SnapshotDB is the SQLite file caching folded project state.
	// Empty disables snapshots; state is rebuilt from the log on open.
	// Default: ~/.croc/index.db
	SnapshotDB string `mapstructure:"snapshot_db"`

	// LogFile receives debug log lines when debug logging is enabled.
	// Default: croc.log in the working directory.
	LogFile string `mapstructure:"log_file"`

	Retry   RetryConfig    `mapstructure:"retry"`
	Review  ReviewConfig   `mapstructure:"review"`
	Watch   WatchConfig    `mapstructure:"watch"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// RetryConfig bounds automatic assignment retries.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts an assignment gets
	// before the failure is terminal and the foreman is escalated.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// ReviewConfig tunes the review gate.
type ReviewConfig struct {
	// StaleAfter is how long a project may sit in review before a
	// staleness marker is recorded.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// WatchConfig tunes the event log file watcher.
type WatchConfig struct {
	// Debounce coalesces bursts of file events into one notification.
	Debounce time.Duration `mapstructure:"debounce"`
}

// DefaultDataDir returns ~/.croc/projects, or empty string if the home
// directory is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".croc", "projects")
}

// DefaultSnapshotDB returns ~/.croc/index.db, or empty string if the home
// directory is unavailable.
func DefaultSnapshotDB() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".croc", "index.db")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "croc", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		DataDir:    DefaultDataDir(),
		SnapshotDB: DefaultSnapshotDB(),
		Retry: RetryConfig{
			MaxAttempts: 3,
		},
		Review: ReviewConfig{
			StaleAfter: 30 * time.Minute,
		},
		Watch: WatchConfig{
			Debounce: 250 * time.Millisecond,
		},
		Tracing: tracing.Config{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "croc-engine",
		},
	}
}

// EngineOptions maps the file configuration onto engine options.
// Clock and tracer are wired separately by the caller.
func (c Config) EngineOptions() engine.Options {
	return engine.Options{
		DataDir:          c.DataDir,
		SnapshotPath:     c.SnapshotDB,
		MaxAttempts:      c.Retry.MaxAttempts,
		ReviewStaleAfter: c.Review.StaleAfter,
	}
}

// Validate checks the configuration for errors.
// Zero values are valid and fall back to defaults at use time.
func Validate(cfg Config) error {
	if cfg.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Review.StaleAfter < 0 {
		return fmt.Errorf("review.stale_after must be positive, got %v", cfg.Review.StaleAfter)
	}
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must be positive, got %v", cfg.Watch.Debounce)
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if t.Exporter != "" {
		switch t.Exporter {
		case "none", "file", "stdout", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if t.Enabled {
		if t.Exporter == "file" && t.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if t.Exporter == "otlp" && t.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Croc Configuration

# Root directory for project event logs (default: ~/.croc/projects)
# data_dir: /path/to/projects

# SQLite snapshot cache for folded project state (default: ~/.croc/index.db)
# The event log stays authoritative; deleting this file only forces a replay.
# snapshot_db: /path/to/index.db

# Debug log destination, used with --debug (default: croc.log)
# log_file: /tmp/croc.log

# Assignment retry policy
retry:
  max_attempts: 3   # Total attempts before failure is terminal

# Review gate settings
review:
  stale_after: 30m  # Mark the review stale after waiting this long

# Event log watcher
watch:
  debounce: 250ms   # Coalesce bursts of file changes

# Distributed tracing
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/croc/traces/traces.jsonl  # Output file for file exporter
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
#
# Example: Send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1  # Sample 10% of traces
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
