// Command fieldsync is the host for the offline-aware data access core. It
// wires the stores, the connectivity monitor and the sync orchestrator
// and exposes them as subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fieldsync",
		Short:         "Offline-aware field operations client",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(),
		newLoginCmd(),
		newProbeCmd(),
		newUpdateCheckCmd(),
		newInspectionsCmd(),
		newSubmissionsCmd(),
		newDocumentsCmd(),
		newSubmitCmd(),
		newReconcileCmd(),
	)

	return root
}
