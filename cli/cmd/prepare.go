package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	prepareModules  string
	prepareSnapshot string
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Prepare the dependency snapshot",
	Long: `Prepare copies the analysis library and its transitive dependencies from
an installed node_modules into the snapshot directory used by every run.

Example:
  blockflow prepare --modules ./node_modules --snapshot .blockflow/snapshot
`,
	Args: cobra.NoArgs,
	RunE: runPrepare,
}

func init() {
	prepareCmd.Flags().StringVar(&prepareModules, "modules", "", "Installed node_modules to copy from (overrides config)")
	prepareCmd.Flags().StringVar(&prepareSnapshot, "snapshot", "", "Snapshot directory (overrides config)")
}

func runPrepare(cmd *cobra.Command, _ []string) error {
	if prepareModules != "" {
		app.cfg.Snapshot.ModulesPath = prepareModules
	}
	if prepareSnapshot != "" {
		app.cfg.Snapshot.Dir = prepareSnapshot
	}

	e, err := newEngine(cmd.Context())
	if err != nil {
		return err
	}
	dir, err := e.Prepare(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Snapshot ready at %s\n", dir)
	return nil
}
