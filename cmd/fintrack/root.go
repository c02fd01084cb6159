package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fintrack",
		Short:         "Import bank statements and categorize transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newMigrateCmd(),
		newAccountCmd(),
		newImportCmd(),
		newRulesCmd(),
		newWorkerCmd(),
	)
	return root
}
