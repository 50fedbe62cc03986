// Command nexuscore is a thin operational entrypoint over the
// orchestration and security core: starting a session loop against a
// configured provider, verifying an audit log's hash chain, and
// reporting system health. It exercises the core's packages without
// implementing a real channel transport (spec §1's channel adapters
// are explicitly out of scope here).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nexuscore",
		Short: "Operational CLI for the orchestration and security core",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (defaults embedded if omitted)")

	root.AddCommand(buildServeCmd(), buildAuditCmd(), buildDoctorCmd())
	return root
}
