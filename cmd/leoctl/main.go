// Command leoctl is the operator and end-user CLI for LEOScope: it speaks
// the coordinator's gRPC surface directly (spec.md section 6) for user,
// node, job, run, and config management, plus a handful of debug commands
// (run exec, run logs -f, monitor replay, secrets rotate-keys) that reach
// past the coordinator to a node agent or the local filesystem.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	coordinatorAddr string
	token           string
)

func main() {
	root := &cobra.Command{
		Use:           "leoctl",
		Short:         "Operate a LEOScope coordinator and its node agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&coordinatorAddr, "coordinator", os.Getenv("LEOSCOPE_COORDINATOR_ADDR"), "coordinator gRPC address")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("LEOSCOPE_TOKEN"), "bearer token (signed JWT or node static token)")

	root.AddCommand(newUserCmd())
	root.AddCommand(newNodeCmd())
	root.AddCommand(newJobCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newSecretsCmd())
	root.AddCommand(newMonitorCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(int(exitCodeFor(err)))
	}
}
