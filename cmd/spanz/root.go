package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "spanz",
		Short: "In-process trace collector",
		Long: `spanz records hierarchical spans inside one process and keeps a
durable journal of every finished span.

Run "spanz serve" to start the demo HTTP service with its trace viewer, or
"spanz journal" to read a journal file written by a previous run.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newJournalCmd())
	return rootCmd
}
