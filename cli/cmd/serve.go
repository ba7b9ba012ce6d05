package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BDNK1/blockflow/internal/api"
	"github.com/BDNK1/blockflow/internal/engine"
	"github.com/BDNK1/blockflow/internal/supervisor"
	"github.com/BDNK1/blockflow/internal/telemetry"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API over HTTP",
	Long: `Serve starts the HTTP API for starting, following and terminating runs.

POST /api/runs executes the action code and reads the files named in the
submitted flow, and the API has no authentication. It listens on
127.0.0.1:8080 by default. Only bind it to another interface behind a proxy
that authenticates callers.

With server.metrics.enabled set in the config, run metrics are served in
Prometheus format on server.metrics.path (default /metrics).

Example:
  blockflow serve --address 127.0.0.1:9090
`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	addr := app.cfg.Server.Address
	if serveAddress != "" {
		addr = serveAddress
	}

	metrics, err := telemetry.NewMetrics(cmd.Context(), app.cfg.Server.Metrics.Enabled)
	if err != nil {
		return err
	}
	metrics.SetAsGlobal()
	defer func() {
		if err := metrics.Shutdown(context.Background()); err != nil {
			app.l.Warn("Failed to shut down metrics", "error", err)
		}
	}()

	e, err := newEngine(cmd.Context(), func(o *engine.Options) {
		o.Supervisor.Meter = metrics.Meter(supervisor.MeterName)
	})
	if err != nil {
		return err
	}
	if _, err := e.EnsureSnapshot(cmd.Context()); err != nil {
		app.l.Warn("Snapshot not ready, runs will prepare it on demand", "error", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(api.EngineLauncher(e), app.l)
	if metrics.Enabled() {
		srv.Mount(app.cfg.Server.Metrics.Path, metrics.Handler())
		app.l.Info("Serving metrics", "path", app.cfg.Server.Metrics.Path)
	}
	return srv.ListenAndServe(ctx, addr)
}
