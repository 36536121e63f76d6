package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "Inspect campaignflow lifecycle tables and history",
		Long:          color.CyanString("flowctl") + " validates transition tables and reads the audit trail of a sqlite store.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		if off, _ := cmd.Flags().GetBool("no-color"); off {
			color.NoColor = true
		}
	}
	root.AddCommand(newTablesCmd(), newHistoryCmd())
	return root
}
