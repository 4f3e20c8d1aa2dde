package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/croc/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch <project-id>",
	Short: "Follow a project's event log and print state changes",
	Long: `Watch the project's event log file and print a state summary whenever
it grows. Appends from other engine processes are picked up too, since the
watch is on the file itself. Stop with Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		projectID := args[0]
		s, err := eng.State(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		if err := printState(cmd, s); err != nil {
			return err
		}

		logPath := filepath.Join(cfg.DataDir, "projects", projectID, "events.jsonl")
		w, err := watcher.New(watcher.Config{
			LogPath:     logPath,
			DebounceDur: cfg.Watch.Debounce,
		})
		if err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()

		onChange, err := w.Start()
		if err != nil {
			return fmt.Errorf("watching %s: %w", logPath, err)
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

		for {
			select {
			case <-onChange:
				s, err := eng.State(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				if err := printState(cmd, s); err != nil {
					return err
				}
			case <-sigs:
				return nil
			case <-cmd.Context().Done():
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
