// Package cli implements the fieldsync command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var host string

	rootCmd := &cobra.Command{
		Use:           "fieldsync",
		Short:         "Offline-first sync client for the quality management platform",
		Long:          "fieldsync queues quality management mutations while offline, delivers them in order when connectivity returns, and serves local analytics over the cached data.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// Precedence: flag > env > default.
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("FIELDSYNC_HOST"); v != "" {
					host = v
				}
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", "http://127.0.0.1:8787",
		"base URL of the running fieldsync daemon")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatusCmd(&host))
	rootCmd.AddCommand(newFlushCmd(&host))
	rootCmd.AddCommand(newQueryCmd(&host))
	rootCmd.AddCommand(newLoginCmd())

	return rootCmd
}
