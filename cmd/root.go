package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ragserver",
	Short: "Retrieval-augmented search and Q&A over a project's docs and code",
	Long: `ragserver indexes a project's documentation and source into a
pgvector-backed store and serves search, ask, and explain operations over
a stdio Model Context Protocol channel.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI, returning the first error encountered so main can
// translate it into a process exit code via apperr.ExitCode.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(newIndexCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newRecoverCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newSetupCmd())
}
