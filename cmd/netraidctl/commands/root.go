// Package commands implements the netraidctl CLI's subcommands.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	serverURL    string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "netraidctl",
	Short: "Inspect a NetRAID node's admin HTTP surface",
	Long: `netraidctl queries one node's read-only admin endpoints: liveness,
the cluster's server directory, and the node's running configuration.

It does not authenticate, since the admin surface it talks to carries no
credentials (§ non-goals) — point it only at nodes you already trust.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Node admin API base URL")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
