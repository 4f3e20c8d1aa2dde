package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, path string) Config {
	t.Helper()
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return cfg
}

func TestSaveDataDir_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, SaveDataDir(path, "/srv/croc/projects"))

	cfg := loadConfig(t, path)
	require.Equal(t, "/srv/croc/projects", cfg.DataDir)
}

func TestSaveDataDir_PreservesComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	original := "# keep this comment\ndata_dir: /old/path\n\nretry:\n  max_attempts: 5\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o600))

	require.NoError(t, SaveDataDir(path, "/new/path"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "# keep this comment")

	cfg := loadConfig(t, path)
	require.Equal(t, "/new/path", cfg.DataDir)
	require.Equal(t, 5, cfg.Retry.MaxAttempts, "unrelated sections survive")
}

func TestSaveMaxAttempts_CreatesNestedSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /p\n"), 0o600))

	require.NoError(t, SaveMaxAttempts(path, 7))

	cfg := loadConfig(t, path)
	require.Equal(t, 7, cfg.Retry.MaxAttempts)
	require.Equal(t, "/p", cfg.DataDir)
}

func TestSaveMaxAttempts_RejectsNonPositive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.Error(t, SaveMaxAttempts(path, 0))
	require.NoFileExists(t, path)
}

func TestSaveStaleAfter_UpdatesExistingValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	require.NoError(t, SaveStaleAfter(path, 90*time.Minute))

	cfg := loadConfig(t, path)
	require.Equal(t, 90*time.Minute, cfg.Review.StaleAfter)
	require.Equal(t, 3, cfg.Retry.MaxAttempts, "other keys untouched")
}

func TestSaveStaleAfter_RejectsNonPositive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.Error(t, SaveStaleAfter(path, 0))
}

func TestUpsertScalar_RejectsNonMappingRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- just\n- a list\n"), 0o600))

	err := SaveDataDir(path, "/p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a mapping")
}

func TestSave_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveDataDir(path, "/p"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "config.yaml", entries[0].Name())
}
