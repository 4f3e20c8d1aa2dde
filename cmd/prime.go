package cmd

import (
	"github.com/spf13/cobra"
)

var primeCmd = &cobra.Command{
	Use:   "prime <project-id> <path>...",
	Short: "Ingest files as project context",
	Long: `Ingest one or more files as project context. Relative paths resolve
against the project root. Content is deduplicated by digest: priming the
same bytes twice, under any path, records nothing new.

Example:
  croc prime demo docs/design.md README.md --as foreman`,
	Args: cobra.MinimumNArgs(2),
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

		projectID := args[0]
		for _, path := range args[1:] {
			item, _, err := eng.IngestContext(cmd.Context(), projectID, expected(), a, path)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, item); err != nil {
				return err
			}
		}
		return nil
	},
}

var contextListCmd = &cobra.Command{
	Use:   "context:list <project-id>",
	Short: "List a project's ingested context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		items, err := eng.ContextItems(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, items)
	},
}

func init() {
	rootCmd.AddCommand(primeCmd, contextListCmd)
}
