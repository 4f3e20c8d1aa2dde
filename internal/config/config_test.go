package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/croc/internal/tracing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 30*time.Minute, cfg.Review.StaleAfter)
	require.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, "file", cfg.Tracing.Exporter)
	require.Equal(t, 1.0, cfg.Tracing.SampleRate)
	require.NoError(t, Validate(cfg))
}

func TestEngineOptions_MapsConfig(t *testing.T) {
	cfg := Config{
		DataDir:    "/tmp/projects",
		SnapshotDB: "/tmp/index.db",
		Retry:      RetryConfig{MaxAttempts: 5},
		Review:     ReviewConfig{StaleAfter: time.Hour},
	}

	opts := cfg.EngineOptions()
	require.Equal(t, "/tmp/projects", opts.DataDir)
	require.Equal(t, "/tmp/index.db", opts.SnapshotPath)
	require.Equal(t, 5, opts.MaxAttempts)
	require.Equal(t, time.Hour, opts.ReviewStaleAfter)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "negative max attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = -1 },
			wantErr: "retry.max_attempts",
		},
		{
			name:    "negative stale window",
			mutate:  func(c *Config) { c.Review.StaleAfter = -time.Minute },
			wantErr: "review.stale_after",
		},
		{
			name:    "negative debounce",
			mutate:  func(c *Config) { c.Watch.Debounce = -time.Second },
			wantErr: "watch.debounce",
		},
		{
			name:    "sample rate out of range",
			mutate:  func(c *Config) { c.Tracing.SampleRate = 1.5 },
			wantErr: "tracing.sample_rate",
		},
		{
			name:    "unknown exporter",
			mutate:  func(c *Config) { c.Tracing.Exporter = "kafka" },
			wantErr: "tracing.exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTracing_EnabledRequiresTargets(t *testing.T) {
	err := ValidateTracing(tracing.Config{Enabled: true, Exporter: "file", SampleRate: 1.0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "file_path")

	err = ValidateTracing(tracing.Config{Enabled: true, Exporter: "otlp", SampleRate: 1.0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "otlp_endpoint")

	// Disabled configs skip path requirements.
	err = ValidateTracing(tracing.Config{Enabled: false, Exporter: "file", SampleRate: 1.0})
	require.NoError(t, err)
}

func TestWriteDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	require.NoError(t, WriteDefaultConfig(path))

	// The template must parse back into the default values.
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 30*time.Minute, cfg.Review.StaleAfter)
	require.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	require.NoError(t, Validate(cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
