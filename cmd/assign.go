package cmd

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zjrosen/croc/internal/engine/event"
	"github.com/zjrosen/croc/internal/engine/projector"
)

var (
	assignRole   string
	assignTitle  string
	assignReason string
	claimWorker  string
	listRole     string
	listStatus   string
)

var assignCreateCmd = &cobra.Command{
	Use:   "assign:create <project-id> <task-id>",
	Short: "Create a pending assignment",
	Long: `Create a pending assignment for a worker role. Task IDs are unique per
project; retrying a create with the same task ID is a no-op.

Example:
  croc assign:create demo t-1 --role worker --title "implement parser" --as foreman`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, func(t transitionArgs) (*projector.State, error) {
			return t.eng.CreateAssignment(cmd.Context(), args[0], t.expected, t.actor,
				args[1], event.Role(assignRole), assignTitle)
		})
	},
}

var assignClaimCmd = &cobra.Command{
	Use:   "assign:claim <project-id>",
	Short: "Claim the next pending assignment for a worker",
	Long: `Claim the next pending assignment matching the role. Assignments are
claimed lowest task ID first; the claimed task is printed before the state.
When nothing is pending for the role the command succeeds and prints null.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		worker := claimWorker
		if worker == "" {
			worker = "w-" + uuid.NewString()[:8]
		}
		a, s, err := eng.Claim(cmd.Context(), args[0], expected(), event.Role(assignRole), worker)
		if err != nil {
			return err
		}
		if err := printJSON(cmd, a); err != nil {
			return err
		}
		return printState(cmd, s)
	},
}

var assignCompleteCmd = &cobra.Command{
	Use:   "assign:complete <project-id> <task-id>",
	Short: "Complete an in-progress assignment",
	Long: `Complete an in-progress assignment. Settling the last open assignment
moves the project into review automatically.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, func(t transitionArgs) (*projector.State, error) {
			return t.eng.CompleteAssignment(cmd.Context(), args[0], t.expected, t.actor, args[1])
		})
	},
}

var assignFailCmd = &cobra.Command{
	Use:   "assign:fail <project-id> <task-id>",
	Short: "Record a failed attempt on an assignment",
	Long: `Record a failed attempt. The assignment returns to pending while
attempts remain; exhausting them escalates to the foreman and fails the
project.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, func(t transitionArgs) (*projector.State, error) {
			return t.eng.FailAssignment(cmd.Context(), args[0], t.expected, t.actor, args[1], assignReason)
		})
	},
}

var assignCancelCmd = &cobra.Command{
	Use:   "assign:cancel <project-id> <task-id>",
	Short: "Cancel an open assignment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, func(t transitionArgs) (*projector.State, error) {
			return t.eng.CancelAssignment(cmd.Context(), args[0], t.expected, t.actor, args[1], assignReason)
		})
	},
}

var assignListCmd = &cobra.Command{
	Use:   "assign:list <project-id>",
	Short: "List a project's assignments",
	Long: `List assignments in creation order as JSON.

Examples:
  croc assign:list demo
  croc assign:list demo --role worker --status pending`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		assignments, err := eng.Assignments(cmd.Context(), args[0], projector.Filter{
			Role:   event.Role(listRole),
			Status: projector.AssignmentStatus(listStatus),
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, assignments)
	},
}

func init() {
	rootCmd.AddCommand(assignCreateCmd, assignClaimCmd, assignCompleteCmd,
		assignFailCmd, assignCancelCmd, assignListCmd)

	assignCreateCmd.Flags().StringVar(&assignRole, "role", "worker", "worker role for the assignment")
	assignCreateCmd.Flags().StringVar(&assignTitle, "title", "", "assignment title (required)")
	_ = assignCreateCmd.MarkFlagRequired("title")

	assignClaimCmd.Flags().StringVar(&assignRole, "role", "worker", "role to claim for")
	assignClaimCmd.Flags().StringVar(&claimWorker, "worker", "", "worker identity (generated when omitted)")

	assignFailCmd.Flags().StringVar(&assignReason, "reason", "", "failure reason")
	assignCancelCmd.Flags().StringVar(&assignReason, "reason", "", "cancellation reason")

	assignListCmd.Flags().StringVar(&listRole, "role", "", "filter by role")
	assignListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
}
