package cmd

import (
	"github.com/spf13/cobra"
)

var initRootPath string

var initCmd = &cobra.Command{
	Use:   "init <project-id>",
	Short: "Initialize a new project",
	Long: `Initialize a new project with its own append-only event log.

The project starts in the init phase; use plan:request to begin planning.

Example:
  croc init demo --root /path/to/repo`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		a, err := actor()
		if err != nil {
			return err
		}
		s, err := eng.InitProject(cmd.Context(), args[0], initRootPath, a)
		if err != nil {
			return err
		}
		return printState(cmd, s)
	},
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List all initialized projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		ids, err := eng.Projects(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, ids)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "Show a project's folded state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		s, err := eng.State(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printState(cmd, s)
	},
}

var eventsFromSeq uint64

var eventsCmd = &cobra.Command{
	Use:   "events <project-id>",
	Short: "Dump a project's event log as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		events, err := eng.Events(cmd.Context(), args[0], eventsFromSeq)
		if err != nil {
			return err
		}
		return printJSON(cmd, events)
	},
}

var rebuildCmd = &cobra.Command{
	Use:     "rebuild <project-id>",
	Aliases: []string{"replay"},
	Short:   "Replay the full event log and refresh the snapshot",
	Long: `Replay the project's event log from sequence 1 and refresh the snapshot
cache. The log is authoritative; rebuild discards any cached state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		s, err := eng.Rebuild(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printState(cmd, s)
	},
}

var abortReason string

var abortCmd = &cobra.Command{
	Use:   "abort <project-id>",
	Short: "Abort a project from any non-terminal phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		a, err := actor()
		if err != nil {
			return err
		}
		s, err := eng.AbortProject(cmd.Context(), args[0], expected(), a, abortReason)
		if err != nil {
			return err
		}
		return printState(cmd, s)
	},
}

func init() {
	rootCmd.AddCommand(initCmd, projectsCmd, statusCmd, eventsCmd, rebuildCmd, abortCmd)

	initCmd.Flags().StringVar(&initRootPath, "root", "", "project root path (required)")
	_ = initCmd.MarkFlagRequired("root")

	eventsCmd.Flags().Uint64Var(&eventsFromSeq, "from", 1, "first sequence number to include")

	abortCmd.Flags().StringVar(&abortReason, "reason", "", "why the project is being aborted")
}
