package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "bridge",
		Short:         "Virtual order ledger and trigger-evaluation engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newRunCmd(),
		newLedgerCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
