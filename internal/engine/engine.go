// Package engine wires the registry, compiler, snapshot preparer and
// supervisor into the three operations callers use: compile, prepare and
// execute.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BDNK1/blockflow/flow"
	"github.com/BDNK1/blockflow/internal/compiler"
	"github.com/BDNK1/blockflow/internal/config"
	"github.com/BDNK1/blockflow/internal/constants"
	"github.com/BDNK1/blockflow/internal/registry"
	"github.com/BDNK1/blockflow/internal/security"
	"github.com/BDNK1/blockflow/internal/snapshot"
	"github.com/BDNK1/blockflow/internal/supervisor"
	"github.com/BDNK1/blockflow/internal/telemetry"
)

// Options configures an Engine.
type Options struct {
	// ModulesPath is the installed node_modules snapshots are copied from.
	ModulesPath string
	SnapshotDir string
	Packages    []string
	// Actions are user-defined actions available to every request. Actions
	// sent with a request take precedence.
	Actions    []flow.Action
	Model      flow.ModelConfig
	Supervisor supervisor.Options
}

// OptionsFromConfig maps the file configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ModulesPath: cfg.Snapshot.ModulesPath,
		SnapshotDir: cfg.Snapshot.Dir,
		Packages:    cfg.Snapshot.Packages,
		Model: flow.ModelConfig{
			Model:       cfg.Model.Model,
			Temperature: cfg.Model.Temperature,
			MaxTokens:   cfg.Model.MaxTokens,
			Endpoint:    cfg.Model.Endpoint,
		},
		Supervisor: supervisor.Options{
			RuntimeCommand: cfg.Runtime.Command,
			Timeout:        cfg.Runtime.Timeout,
			GracePeriod:    cfg.Runtime.GracePeriod,
			KillDelay:      cfg.Runtime.KillDelay,
			EventBuffer:    cfg.Runtime.EventBuffer,
		},
	}
}

// Engine compiles requests and runs them against a prepared snapshot.
type Engine struct {
	opts     Options
	preparer *snapshot.Preparer
	sup      *supervisor.Supervisor
	l        *slog.Logger
}

// New returns an engine for opts. SnapshotDir is required.
func New(opts Options, l *slog.Logger) (*Engine, error) {
	if l == nil {
		l = slog.Default()
	}
	if opts.ModulesPath == "" {
		opts.ModulesPath = constants.ModulesDir
	}
	if opts.SnapshotDir == "" {
		return nil, errors.New("snapshot directory is required")
	}

	sup, err := supervisor.New(opts.Supervisor, l)
	if err != nil {
		return nil, err
	}

	return &Engine{
		opts:     opts,
		preparer: snapshot.NewPreparer(opts.SnapshotDir, opts.Packages, l),
		sup:      sup,
		l:        l,
	}, nil
}

// Compile resolves the request's actions and compiles its flow. Warnings are
// logged and returned with the result.
func (e *Engine) Compile(ctx context.Context, req flow.ExecutionRequest) (*compiler.Result, error) {
	l := telemetry.WithFlowID(e.l, req.Flow.ID)
	req.ModelConfig = e.modelConfig(req.ModelConfig)

	actions := make([]flow.Action, 0, len(e.opts.Actions)+len(req.Actions))
	actions = append(actions, e.opts.Actions...)
	actions = append(actions, req.Actions...)

	res, err := compiler.Compile(req, registry.New(actions))
	if err != nil {
		l.ErrorContext(ctx, "Flow compilation failed", "error", err)
		return nil, err
	}

	for _, w := range res.Warnings {
		l.WarnContext(ctx, "Compile warning", "code", w.Code, "block_id", w.BlockID, "message", w.Message)
	}
	l.InfoContext(ctx, "Flow compiled", "warnings", len(res.Warnings), "callers", len(res.Plan.Callers))
	return res, nil
}

// modelConfig fills unset request fields from the configured defaults.
func (e *Engine) modelConfig(mc flow.ModelConfig) flow.ModelConfig {
	d := e.opts.Model
	if mc.Model == "" {
		mc.Model = d.Model
	}
	if mc.Endpoint == "" {
		mc.Endpoint = d.Endpoint
	}
	if mc.Temperature == 0 {
		mc.Temperature = d.Temperature
	}
	if mc.MaxTokens == 0 {
		mc.MaxTokens = d.MaxTokens
	}
	return mc
}

// Prepare (re)builds the snapshot from the installed modules.
func (e *Engine) Prepare(ctx context.Context) (string, error) {
	return e.preparer.Prepare(ctx, e.opts.ModulesPath)
}

// EnsureSnapshot reuses an existing snapshot when it holds every root and
// matches the installed versions. Stale packages are dropped and copied
// again; with no installed modules the existing snapshot is kept as is.
func (e *Engine) EnsureSnapshot(ctx context.Context) (string, error) {
	dir := e.opts.SnapshotDir
	if !snapshot.Exists(dir) {
		return e.Prepare(ctx)
	}

	m, err := snapshot.LoadManifest(dir)
	if err != nil {
		e.l.WarnContext(ctx, "Snapshot manifest unreadable, preparing again", "error", err)
		return e.Prepare(ctx)
	}
	for _, root := range e.preparer.Roots {
		if _, ok := m.Version(root); !ok {
			return e.Prepare(ctx)
		}
	}

	if _, err := os.Stat(e.opts.ModulesPath); errors.Is(err, fs.ErrNotExist) {
		e.l.WarnContext(ctx, "Installed modules not found, using existing snapshot", "modules", e.opts.ModulesPath)
		return dir, nil
	}

	stale, err := m.Stale(e.opts.ModulesPath)
	if err != nil {
		return "", fmt.Errorf("failed to check snapshot: %w", err)
	}
	if len(stale) == 0 {
		return dir, nil
	}

	for _, s := range stale {
		e.l.WarnContext(ctx, "Snapshot package is stale", "package", s.Name, "snapshot", s.Snapshot, "installed", s.Installed)
		pkgDir, err := security.PackageDir(filepath.Join(dir, constants.ModulesDir), s.Name)
		if err != nil {
			return "", err
		}
		if err := os.RemoveAll(pkgDir); err != nil {
			return "", &snapshot.SnapshotError{Package: s.Name, Op: "refresh", Err: err}
		}
	}
	return e.Prepare(ctx)
}

// Execute compiles req, makes sure a snapshot exists and starts the run.
// Concurrent executions are not serialized here.
func (e *Engine) Execute(ctx context.Context, req flow.ExecutionRequest) (*supervisor.Run, *compiler.Result, error) {
	res, err := e.Compile(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	dir, err := e.EnsureSnapshot(ctx)
	if err != nil {
		return nil, res, fmt.Errorf("failed to prepare snapshot: %w", err)
	}

	run, err := e.sup.Start(ctx, res.Program, dir)
	if err != nil {
		return nil, res, fmt.Errorf("failed to start flow %s: %w", req.Flow.ID, err)
	}

	telemetry.WithRunID(telemetry.WithFlowID(e.l, req.Flow.ID), run.ID).InfoContext(ctx, "Flow started")
	return run, res, nil
}
