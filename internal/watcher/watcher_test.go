package watcher_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/croc/internal/watcher"
)

func TestWatcher_DebounceMultipleAppends(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")
	err := os.WriteFile(logPath, []byte("{}\n"), 0o644)
	require.NoError(t, err, "failed to create log file")

	w, err := watcher.New(watcher.Config{
		LogPath:     logPath,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err, "failed to start watcher")

	// Rapid appends should coalesce into a single notification
	for i := 0; i < 10; i++ {
		err := os.WriteFile(logPath, []byte(fmt.Sprintf("{\"seq\":%d}\n", i)), 0o644)
		require.NoError(t, err, "failed to write log")
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-onChange:
		// Expected
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected notification but got timeout")
	}

	// No second notification should come quickly
	select {
	case <-onChange:
		t.Fatal("unexpected second notification")
	case <-time.After(100 * time.Millisecond):
		// Expected - no second notification
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")
	otherPath := filepath.Join(dir, "notes.txt")
	err := os.WriteFile(logPath, []byte("{}\n"), 0o644)
	require.NoError(t, err, "failed to create log file")
	// Pre-create the other file so writes to it are just Write events
	err = os.WriteFile(otherPath, []byte("initial"), 0o644)
	require.NoError(t, err, "failed to create other file")

	w, err := watcher.New(watcher.Config{
		LogPath:     logPath,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err, "failed to start watcher")

	err = os.WriteFile(otherPath, []byte("other content"), 0o644)
	require.NoError(t, err, "failed to write other file")

	select {
	case <-onChange:
		t.Fatal("should not notify for unrelated files")
	case <-time.After(100 * time.Millisecond):
		// Expected - no notification for unrelated file
	}
}

func TestWatcher_NotifiesOnRewrite(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")

	w, err := watcher.New(watcher.Config{
		LogPath:     logPath,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err, "failed to start watcher")

	// A freshly created log (e.g. after a repair rewrite) must notify too
	err = os.WriteFile(logPath, []byte("{}\n"), 0o644)
	require.NoError(t, err, "failed to create log file")

	select {
	case <-onChange:
		// Expected - create triggers notification
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected notification for log creation")
	}
}

func TestWatcher_Stop(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")
	err := os.WriteFile(logPath, []byte("{}\n"), 0o644)
	require.NoError(t, err, "failed to create log file")

	w, err := watcher.New(watcher.Config{
		LogPath:     logPath,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")

	_, err = w.Start()
	require.NoError(t, err, "failed to start watcher")

	// Stop should not hang or panic
	done := make(chan struct{})
	go func() {
		err := w.Stop()
		assert.NoError(t, err, "Stop returned error")
		close(done)
	}()

	select {
	case <-done:
		// Expected - stop completed successfully
	case <-time.After(1 * time.Second):
		t.Fatal("Stop() timed out - possible deadlock")
	}
}

func TestWatcher_StartFailsOnMissingDirectory(t *testing.T) {
	w, err := watcher.New(watcher.Config{
		LogPath:     filepath.Join(t.TempDir(), "missing", "events.jsonl"),
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	defer func() { _ = w.Stop() }()

	_, err = w.Start()
	require.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	logPath := "/data/projects/demo/events.jsonl"
	cfg := watcher.DefaultConfig(logPath)

	assert.Equal(t, logPath, cfg.LogPath)
	assert.Equal(t, 250*time.Millisecond, cfg.DebounceDur)
}
