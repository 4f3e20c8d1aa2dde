package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/croc/internal/engine/projector"
)

var planRequestCmd = &cobra.Command{
	Use:   "plan:request <project-id>",
	Short: "Move a project into planning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, func(t transitionArgs) (*projector.State, error) {
			return t.eng.RequestPlan(cmd.Context(), args[0], t.expected, t.actor)
		})
	},
}

var planSummary string

var planSubmitCmd = &cobra.Command{
	Use:   "plan:submit <project-id>",
	Short: "Submit a plan draft for approval",
	Long: `Submit a plan draft. The project moves to pending_approval and waits
for an explicit approve or reject; it never advances on its own.

Example:
  croc plan:submit demo --summary "split parser into two passes" --as planner`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, func(t transitionArgs) (*projector.State, error) {
			return t.eng.SubmitPlan(cmd.Context(), args[0], t.expected, t.actor, planSummary)
		})
	},
}

var planApproveCmd = &cobra.Command{
	Use:   "plan:approve <project-id>",
	Short: "Approve the pending plan and start executing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, func(t transitionArgs) (*projector.State, error) {
			return t.eng.ApprovePlan(cmd.Context(), args[0], t.expected, t.actor)
		})
	},
}

var planRejectReason string

var planRejectCmd = &cobra.Command{
	Use:   "plan:reject <project-id>",
	Short: "Reject the pending plan and return to planning",
	Long: `Reject the pending plan. The project returns to planning under a new
revision; approvals recorded against the rejected revision no longer count.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, func(t transitionArgs) (*projector.State, error) {
			return t.eng.RejectPlan(cmd.Context(), args[0], t.expected, t.actor, planRejectReason)
		})
	},
}

func init() {
	rootCmd.AddCommand(planRequestCmd, planSubmitCmd, planApproveCmd, planRejectCmd)

	planSubmitCmd.Flags().StringVar(&planSummary, "summary", "", "one-line plan summary (required)")
	_ = planSubmitCmd.MarkFlagRequired("summary")

	planRejectCmd.Flags().StringVar(&planRejectReason, "reason", "", "why the plan is rejected")
}
