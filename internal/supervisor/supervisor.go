// Package supervisor launches generated programs in an isolated workspace,
// streams their output as log events and drives them to exactly one outcome.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/shlex"
	"go.opentelemetry.io/otel/metric"

	"github.com/BDNK1/blockflow/internal/constants"
	"github.com/BDNK1/blockflow/internal/generator"
	"github.com/BDNK1/blockflow/internal/snapshot"
	"github.com/BDNK1/blockflow/internal/workspace"
)

// Options configures how runs are launched and torn down. Zero values take
// the defaults from the constants package.
type Options struct {
	// RuntimeCommand launches the JavaScript runtime. It is split like a
	// shell word list; the runner path is appended.
	RuntimeCommand  string
	Timeout         time.Duration
	GracePeriod     time.Duration
	KillDelay       time.Duration
	EventBuffer     int
	WorkspacePrefix string
	// Env is added to the host environment of every child.
	Env map[string]string
	// Meter receives run metrics. Nil uses the global meter provider.
	Meter metric.Meter
}

func (o Options) withDefaults() Options {
	if o.RuntimeCommand == "" {
		o.RuntimeCommand = constants.DefaultRuntimeCommand
	}
	if o.Timeout == 0 {
		o.Timeout = constants.DefaultTimeout
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = constants.DefaultGracePeriod
	}
	if o.KillDelay <= 0 {
		o.KillDelay = constants.DefaultKillDelay
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	if o.WorkspacePrefix == "" {
		o.WorkspacePrefix = constants.WorkspacePrefix
	}
	return o
}

type spawnFunc func(argv []string, env []string) (processHandle, error)

// Supervisor launches generated programs and tracks them as runs.
type Supervisor struct {
	opts  Options
	argv  []string
	l     *slog.Logger
	spawn spawnFunc
}

// New returns a supervisor for opts. It fails when the runtime command
// cannot be split into arguments.
func New(opts Options, l *slog.Logger) (*Supervisor, error) {
	if l == nil {
		l = slog.Default()
	}
	opts = opts.withDefaults()

	argv, err := shlex.Split(opts.RuntimeCommand)
	if err != nil {
		return nil, fmt.Errorf("invalid runtime command %q: %w", opts.RuntimeCommand, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("runtime command is empty")
	}

	return &Supervisor{
		opts: opts,
		argv: argv,
		l:    l,
		spawn: func(argv, env []string) (processHandle, error) {
			h, err := startProcess(argv, env)
			if err != nil {
				return nil, err
			}
			return h, nil
		},
	}, nil
}

// Options returns the options with defaults applied.
func (s *Supervisor) Options() Options {
	return s.opts
}

// Start writes program into a fresh workspace wired to the snapshot in
// snapshotDir and launches it. ctx only bounds the startup; use
// Run.Terminate to stop a started run.
func (s *Supervisor) Start(ctx context.Context, program string, snapshotDir string) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ws, err := workspace.Create(s.opts.WorkspacePrefix)
	if err != nil {
		return nil, &ProcessError{Op: "workspace", Err: err}
	}
	l := s.l.With("run_id", ws.ID)
	cleanup := func() {
		if err := ws.Remove(constants.ProgramFile); err != nil {
			l.Warn("Failed to remove program file", "error", err)
		}
		if err := ws.Cleanup(); err != nil {
			l.Warn("Failed to cleanup workspace", "error", err)
		}
	}

	runner, err := s.prepare(ws, program, snapshotDir)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		cleanup()
		return nil, err
	}

	modules, err := filepath.Abs(filepath.Join(snapshotDir, constants.ModulesDir))
	if err != nil {
		cleanup()
		return nil, &ProcessError{Op: "workspace", Err: err}
	}
	extra := maps.Clone(s.opts.Env)
	if extra == nil {
		extra = make(map[string]string, 1)
	}
	extra["NODE_PATH"] = modulePath(modules)

	argv := append(slices.Clone(s.argv), runner)
	h, err := s.spawn(argv, mergeEnvironment(extra))
	if err != nil {
		cleanup()
		return nil, err
	}

	l.Debug("Spawned runtime", "argv", argv, "workspace", ws.Path)
	run := newRun(ws.ID, h, s.opts, s.l, cleanup)
	run.start()
	return run, nil
}

func (s *Supervisor) prepare(ws *workspace.Workspace, program, snapshotDir string) (string, error) {
	if _, err := ws.LinkModules(snapshotDir); err != nil {
		return "", &ProcessError{Op: "workspace", Err: err}
	}

	var deps []generator.Dependency
	if m, err := snapshot.LoadManifest(snapshotDir); err == nil {
		for _, p := range m.Packages {
			deps = append(deps, generator.Dependency{Name: p.Name, Version: p.Version})
		}
	} else {
		s.l.Debug("Snapshot manifest unavailable, declaring no dependencies", "error", err)
	}
	manifest, err := generator.RenderManifest(constants.WorkspacePrefix+ws.ID[:8], deps)
	if err != nil {
		return "", &ProcessError{Op: "workspace", Err: err}
	}
	if _, err := ws.WriteFile(constants.ManifestFile, []byte(manifest), 0o600); err != nil {
		return "", &ProcessError{Op: "workspace", Err: err}
	}

	if _, err := ws.WriteFile(constants.ProgramFile, []byte(program), 0o600); err != nil {
		return "", &ProcessError{Op: "workspace", Err: err}
	}

	runner, err := generator.RenderRunner(ws.ID)
	if err != nil {
		return "", &ProcessError{Op: "workspace", Err: err}
	}
	path, err := ws.WriteFile(constants.RunnerFile, []byte(runner), 0o600)
	if err != nil {
		return "", &ProcessError{Op: "workspace", Err: err}
	}
	return path, nil
}
