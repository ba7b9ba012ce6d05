package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/BDNK1/blockflow/flow"
	"github.com/BDNK1/blockflow/internal/config"
	"github.com/BDNK1/blockflow/internal/engine"
	"github.com/BDNK1/blockflow/internal/telemetry"
)

var (
	configPath  string
	actionsPath string
	logLevel    string
	logFormat   string
	envFile     string
)

// app is the state shared by every command once flags are parsed.
var app struct {
	cfg     *config.Config
	actions []flow.Action
	l       *slog.Logger
}

var rootCmd = &cobra.Command{
	Use:   "blockflow",
	Short: "Blockflow - flow compiler and execution engine",
	Long: `Blockflow compiles block flows (import, transform, comparison, export)
into a single JavaScript program and runs it in a supervised child process.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// ExitError carries the process exit status a command wants.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default ./blockflow.yaml when present)")
	flags.StringVar(&actionsPath, "actions", "", "File with user-defined actions")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "", "Log format: text or json")
	flags.StringVar(&envFile, "env-file", ".env", "Environment file loaded before the config")

	rootCmd.AddCommand(compileCmd, prepareCmd, runCmd, serveCmd, modelCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	app.cfg = cfg
	app.l = telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	cmd.SetContext(telemetry.WithLogger(cmd.Context(), app.l))

	if actionsPath != "" {
		actions, err := flow.LoadActions(actionsPath)
		if err != nil {
			return err
		}
		app.actions = actions
		app.l.Debug("Loaded user actions", "path", actionsPath, "count", len(actions))
	}
	return nil
}

func newEngine(ctx context.Context, mutate ...func(*engine.Options)) (*engine.Engine, error) {
	opts := engine.OptionsFromConfig(app.cfg)
	opts.Actions = app.actions
	for _, m := range mutate {
		m(&opts)
	}
	return engine.New(opts, telemetry.FromContext(ctx))
}

// loadRequest reads either a full execution request or a bare flow file.
func loadRequest(path string) (flow.ExecutionRequest, error) {
	req, err := flow.LoadRequest(path)
	if err == nil && len(req.Flow.Blocks) > 0 {
		if req.Flow.ID == "" {
			req.Flow.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		return req, nil
	}

	f, ferr := flow.LoadFlow(path)
	if ferr != nil {
		if err != nil {
			return flow.ExecutionRequest{}, err
		}
		return flow.ExecutionRequest{}, ferr
	}
	return flow.ExecutionRequest{Flow: f}, nil
}
