package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	compileOutput    string
	compileItemLimit int
)

var compileCmd = &cobra.Command{
	Use:   "compile <flow-file>",
	Short: "Compile a flow into program text",
	Long: `Compile reads a flow (or a full execution request) and prints the
generated program. Warnings go to stderr.

Example:
  blockflow compile flows/doubling.yaml
  blockflow compile request.json -o program.mjs
`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringVarP(&compileOutput, "output", "o", "", "Write the program to a file instead of stdout")
	compileCmd.Flags().IntVar(&compileItemLimit, "item-limit", -1, "Process at most this many items per import (-1 for all)")
}

func runCompile(cmd *cobra.Command, args []string) error {
	req, err := loadRequest(args[0])
	if err != nil {
		return err
	}
	if compileItemLimit >= 0 {
		req.ItemLimit = &compileItemLimit
	}

	e, err := newEngine(cmd.Context())
	if err != nil {
		return err
	}
	res, err := e.Compile(cmd.Context(), req)
	if err != nil {
		return err
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}

	if compileOutput == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), res.Program)
		return err
	}
	if err := os.WriteFile(compileOutput, []byte(res.Program), 0o644); err != nil {
		return fmt.Errorf("failed to write program to %q: %w", compileOutput, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Program written to %s\n", compileOutput)
	return nil
}
