// Package cmd provides the command-line interface for the solder daemon.
package cmd

import (
	"github.com/spf13/cobra"
)

// version is stamped by the release build; "dev" otherwise.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "solder",
	Short: "Solder bridges tracker work items to Jira",
	Long: `Solder watches work-item saves in the host tracker and creates a linked
Jira issue the first time an item moves into the accepted status. Each item is
claimed exactly once, queued durably, retried with capped exponential backoff,
and the created issue key is written back to the tracker together with an
audit note.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(checkCmd)
}
