package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/croc/internal/engine/projector"
)

var (
	reviewKind      string
	reviewVerdict   string
	reviewRationale string
)

var reviewRecordCmd = &cobra.Command{
	Use:   "review:record <project-id>",
	Short: "Record a review gate decision",
	Long: `Record one gate decision for the current plan revision. Completion
needs an approval from both the automated reviewer and a human; a single
rejection from either side returns the project to planning.

Examples:
  croc review:record demo --kind automated --verdict approve --as reviewer --id rev-1
  croc review:record demo --kind human --verdict reject --rationale "missing tests"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, func(t transitionArgs) (*projector.State, error) {
			return t.eng.RecordReview(cmd.Context(), args[0], t.expected, t.actor,
				projector.ReviewerKind(reviewKind), projector.Verdict(reviewVerdict), reviewRationale)
		})
	},
}

var reviewStaleCmd = &cobra.Command{
	Use:   "review:stale <project-id>",
	Short: "Check whether a review has gone stale",
	Long: `Check the review window and record a staleness marker when exceeded.
Staleness is advisory: a stale review still accepts decisions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		stale, err := eng.CheckStale(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]bool{"stale": stale})
	},
}

var reviewListCmd = &cobra.Command{
	Use:   "review:list <project-id>",
	Short: "List a project's review decisions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		decisions, err := eng.Reviews(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, decisions)
	},
}

func init() {
	rootCmd.AddCommand(reviewRecordCmd, reviewStaleCmd, reviewListCmd)

	reviewRecordCmd.Flags().StringVar(&reviewKind, "kind", "", "reviewer kind: automated or human (required)")
	reviewRecordCmd.Flags().StringVar(&reviewVerdict, "verdict", "", "approve or reject (required)")
	reviewRecordCmd.Flags().StringVar(&reviewRationale, "rationale", "", "decision rationale")
	_ = reviewRecordCmd.MarkFlagRequired("kind")
	_ = reviewRecordCmd.MarkFlagRequired("verdict")
}
