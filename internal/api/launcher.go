package api

import (
	"context"

	"github.com/BDNK1/blockflow/flow"
	"github.com/BDNK1/blockflow/internal/compiler"
	"github.com/BDNK1/blockflow/internal/engine"
	"github.com/BDNK1/blockflow/internal/supervisor"
)

// Run is the part of a supervised run the server needs.
type Run interface {
	RunID() string
	Events() <-chan supervisor.Event
	Done() <-chan struct{}
	Result() (supervisor.Result, bool)
	Terminate()
}

// Launcher compiles and starts a request. A nil warnings slice with an
// error means compilation itself failed.
type Launcher interface {
	Launch(ctx context.Context, req flow.ExecutionRequest) (Run, []compiler.Warning, error)
}

type engineLauncher struct {
	e *engine.Engine
}

// EngineLauncher adapts an engine to the server.
func EngineLauncher(e *engine.Engine) Launcher {
	return engineLauncher{e: e}
}

func (l engineLauncher) Launch(ctx context.Context, req flow.ExecutionRequest) (Run, []compiler.Warning, error) {
	run, res, err := l.e.Execute(ctx, req)
	if err != nil {
		if res == nil {
			return nil, nil, &CompileError{Err: err}
		}
		return nil, res.Warnings, err
	}
	return supervisedRun{run}, res.Warnings, nil
}

type supervisedRun struct {
	*supervisor.Run
}

func (r supervisedRun) RunID() string {
	return r.ID
}

// CompileError marks a request rejected before anything was started.
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string {
	return "compile failed: " + e.Err.Error()
}

func (e *CompileError) Unwrap() error {
	return e.Err
}
