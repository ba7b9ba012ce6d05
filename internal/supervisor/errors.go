package supervisor

import (
	"errors"
	"fmt"
)

// ErrTimedOut is the fixed error of runs that exceeded their wall-clock limit.
var ErrTimedOut = errors.New("execution timed out: the flow did not finish within the configured time limit")

// ProcessError reports a failure to start or control the child process.
type ProcessError struct {
	Op  string
	Err error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process %s: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// RunError is the error of a run that ended in Failed or TimedOut.
type RunError struct {
	State   State
	Message string
	Err     error
}

func (e *RunError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("run %s", e.State)
	}
	return fmt.Sprintf("run %s: %s", e.State, e.Message)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
