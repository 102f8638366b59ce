// Package cmd wires the engine's two CLI front ends, run-config and
// retrieve-config, onto github.com/spf13/cobra — the same CLI library
// the teacher project builds its command tree with (cmd/root.go).
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "atomic-deploy",
	Short: "Declarative multi-target job-deployment engine",
	Long: `atomic-deploy materializes output directories for a set of
configured runs, executes their commands (locally, over SSH, or via a
batch scheduler) and applies post-run cleanup, driven entirely by a
YAML run-set configuration file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newRunConfigCmd())
	rootCmd.AddCommand(newRetrieveConfigCmd())
}

// ExecuteContext runs the command tree under ctx and returns any error
// raised by the selected subcommand.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
