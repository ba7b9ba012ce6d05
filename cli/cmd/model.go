package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BDNK1/blockflow/flow"
	"github.com/BDNK1/blockflow/internal/modelcheck"
)

var (
	modelEndpoint string
	modelName     string
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Model endpoint utilities",
}

var modelCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the model endpoint serves the configured model",
	Args:  cobra.NoArgs,
	RunE:  runModelCheck,
}

func init() {
	modelCheckCmd.Flags().StringVar(&modelEndpoint, "endpoint", "", "Model endpoint (overrides config)")
	modelCheckCmd.Flags().StringVar(&modelName, "model", "", "Model name (overrides config)")
	modelCmd.AddCommand(modelCheckCmd)
}

func runModelCheck(cmd *cobra.Command, _ []string) error {
	mc := flow.ModelConfig{Endpoint: app.cfg.Model.Endpoint, Model: app.cfg.Model.Model}
	if modelEndpoint != "" {
		mc.Endpoint = modelEndpoint
	}
	if modelName != "" {
		mc.Model = modelName
	}

	checker := modelcheck.New(modelcheck.Config{Timeout: app.cfg.Model.CheckTimeout, MaxRetries: 1, RetryWaitMS: 200}, app.l)
	status, err := checker.Check(cmd.Context(), mc)
	out := cmd.OutOrStdout()
	if status != nil {
		fmt.Fprintf(out, "Endpoint: %s\n", status.Endpoint)
		if len(status.Available) > 0 {
			fmt.Fprintf(out, "Models:   %s\n", strings.Join(status.Available, ", "))
		}
	}
	if err != nil {
		return err
	}
	if mc.Model != "" {
		fmt.Fprintf(out, "Model %s is available\n", mc.Model)
	}
	return nil
}
