package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BDNK1/blockflow/internal/modelcheck"
	"github.com/BDNK1/blockflow/internal/supervisor"
	"github.com/BDNK1/blockflow/internal/telemetry"
)

var (
	runItemLimit  int
	runCheckModel bool
	runModel      string
)

var runCmd = &cobra.Command{
	Use:   "run <flow-file>",
	Short: "Compile and execute a flow",
	Long: `Run compiles a flow, makes sure the dependency snapshot is current and
executes the program, streaming its log. Interrupting the command terminates
the run.

Exit codes: 0 completed, 1 failed, 124 timed out, 130 terminated.
`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runItemLimit, "item-limit", -1, "Process at most this many items per import (-1 for all)")
	runCmd.Flags().BoolVar(&runCheckModel, "check-model", false, "Verify the model endpoint before starting")
	runCmd.Flags().StringVar(&runModel, "model", "", "Model name (overrides request and config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	req, err := loadRequest(args[0])
	if err != nil {
		return err
	}
	if runItemLimit >= 0 {
		req.ItemLimit = &runItemLimit
	}
	if runModel != "" {
		req.ModelConfig.Model = runModel
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runCheckModel {
		mc := req.ModelConfig
		if mc.Endpoint == "" {
			mc.Endpoint = app.cfg.Model.Endpoint
		}
		if mc.Model == "" {
			mc.Model = app.cfg.Model.Model
		}
		checker := modelcheck.New(modelcheck.Config{Timeout: app.cfg.Model.CheckTimeout}, telemetry.FromContext(ctx))
		if _, err := checker.Check(ctx, mc); err != nil {
			return err
		}
	}

	e, err := newEngine(cmd.Context())
	if err != nil {
		return err
	}
	run, res, err := e.Execute(ctx, req)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(cmd.OutOrStdout(), run.Events())
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted, terminating run")
		run.Terminate()
	case <-run.Done():
	}

	result, err := run.Wait(context.Background())
	<-printed
	return exitFor(result, err)
}

func printEvents(w io.Writer, events <-chan supervisor.Event) {
	for ev := range events {
		if payload, ok := ev.Structured(); ok {
			var p struct {
				Block string `json:"block"`
				Index int    `json:"index"`
				Total int    `json:"total"`
			}
			if json.Unmarshal([]byte(payload), &p) == nil && p.Total > 0 {
				fmt.Fprintf(w, "[progress] %s %d/%d\n", p.Block, p.Index, p.Total)
				continue
			}
		}
		fmt.Fprintf(w, "[%s] %s\n", ev.Type, ev.Message)
	}
}

func exitFor(result supervisor.Result, err error) error {
	switch result.State {
	case supervisor.StateCompleted:
		return nil
	case supervisor.StateTerminated:
		return &ExitError{Code: 130, Err: errors.New("run terminated")}
	case supervisor.StateTimedOut:
		return &ExitError{Code: 124, Err: err}
	default:
		if err == nil {
			err = fmt.Errorf("run ended in state %s", result.State)
		}
		return &ExitError{Code: 1, Err: err}
	}
}
