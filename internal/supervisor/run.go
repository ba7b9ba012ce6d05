package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a run.
type State string

const (
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateTerminated State = "terminated"
	StateTimedOut   State = "timed_out"
)

// Terminal reports whether the run has resolved.
func (s State) Terminal() bool {
	return s != StateRunning && s != ""
}

// Result is the final outcome of a run. Err is nil for Completed and
// Terminated runs.
type Result struct {
	State    State
	ExitCode int
	Err      error
	Duration time.Duration
}

// Run is one supervised execution of a generated program.
type Run struct {
	ID string

	l       *slog.Logger
	opts    Options
	metrics *runMetrics
	handle  processHandle
	cleanup func()
	after   func(time.Duration) <-chan time.Time
	started time.Time

	mu        sync.Mutex
	state     State
	active    processHandle
	cause     State
	lastError string
	seq       int64
	dedup     *deduper
	timer     *time.Timer

	queue       *eventQueue
	events      chan Event
	done        chan struct{}
	result      Result
	resolveOnce sync.Once
}

func newRun(id string, h processHandle, opts Options, l *slog.Logger, cleanup func()) *Run {
	if cleanup == nil {
		cleanup = func() {}
	}
	l = l.With("run_id", id)
	metrics, err := newRunMetrics(opts.Meter)
	if err != nil {
		l.Warn("Run metrics disabled", "error", err)
		metrics = noopRunMetrics()
	}
	return &Run{
		ID:      id,
		l:       l,
		opts:    opts,
		metrics: metrics,
		handle:  h,
		cleanup: cleanup,
		state:   StateRunning,
		active:  h,
		dedup:   newDeduper(),
		queue:   newEventQueue(),
		events:  make(chan Event, opts.EventBuffer),
		done:    make(chan struct{}),
	}
}

func (r *Run) start() {
	r.started = time.Now()
	r.l.Info("Run started", "pid", r.handle.Pid(), "timeout", r.opts.Timeout)

	go r.forward()
	if r.opts.Timeout > 0 {
		r.mu.Lock()
		r.timer = time.AfterFunc(r.opts.Timeout, r.expire)
		r.mu.Unlock()
	}
	go r.supervise()
}

// Events returns the run's log events in emission order. The channel is
// closed after the resolution event. Callers are expected to drain it.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Done is closed once the run has resolved.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Result returns the outcome, or false while the run is still active.
func (r *Run) Result() (Result, bool) {
	select {
	case <-r.done:
		return r.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the run resolves or ctx is done.
func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, r.result.Err
	case <-ctx.Done():
		return Result{State: r.State()}, ctx.Err()
	}
}

// Terminate stops the run through the cooperative-then-forced sequence and
// returns once the sequence is over. It never fails; calling it on a run
// that already resolved, or a second time, does nothing.
func (r *Run) Terminate() {
	h := r.claim(StateTerminated)
	if h == nil {
		return
	}

	r.emit(EventWarn, "Termination requested", SourceSupervisor)
	r.l.Info("Terminating run")
	out := r.terminator(h).run(true)
	r.metrics.termination(context.Background(), out)
	_ = h.Close()

	r.l.Info("Run termination sequence finished", "forced", out.Forced, "escalations", out.Escalations)
}

func (r *Run) expire() {
	h := r.claim(StateTimedOut)
	if h == nil {
		return
	}

	r.emit(EventError, fmt.Sprintf("Execution timed out after %s", r.opts.Timeout), SourceSupervisor)
	r.l.Warn("Run timed out, killing process", "timeout", r.opts.Timeout)
	out := r.terminator(h).run(false)
	r.metrics.termination(context.Background(), out)
	_ = h.Close()
}

// claim takes the active handle for a termination with the given cause. It
// returns nil when the run already resolved, exited or is being stopped.
func (r *Run) claim(cause State) processHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.active
	if h == nil || r.cause != "" {
		return nil
	}
	select {
	case <-h.Exited():
		return nil
	default:
	}
	r.cause = cause
	r.active = nil
	return h
}

func (r *Run) terminator(h processHandle) *terminator {
	return &terminator{
		handle:    h,
		grace:     r.opts.GracePeriod,
		killDelay: r.opts.KillDelay,
		after:     r.after,
		observe: func(p Phase) {
			r.l.Debug("Termination phase", "phase", p.String())
		},
	}
}

func (r *Run) supervise() {
	var g errgroup.Group
	g.Go(r.pumpStdout)
	g.Go(r.pumpStderr)
	streamErr := g.Wait()

	code, waitErr := r.handle.Wait()
	r.finish(code, errors.Join(streamErr, waitErr))
}

func (r *Run) pumpStdout() error {
	var split lineSplitter
	buf := make([]byte, 32*1024)
	for {
		n, err := r.handle.Stdout().Read(buf)
		if n > 0 {
			for _, line := range split.feed(buf[:n]) {
				r.forwardLine(line)
			}
		}
		if err != nil {
			if line, ok := split.flush(); ok {
				r.forwardLine(line)
			}
			return streamError("stdout", err)
		}
	}
}

// pumpStderr forwards every chunk as it arrives.
func (r *Run) pumpStderr() error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.handle.Stderr().Read(buf)
		if n > 0 {
			if text := strings.TrimRight(string(buf[:n]), "\r\n"); strings.TrimSpace(text) != "" {
				r.emit(EventError, text, SourceStderr)
			}
		}
		if err != nil {
			return streamError("stderr", err)
		}
	}
}

func streamError(stream string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return &ProcessError{Op: "read " + stream, Err: err}
}

func (r *Run) forwardLine(line string) {
	t, message := classify(line)

	r.mu.Lock()
	admitted := r.dedup.admit(t, message)
	r.mu.Unlock()

	if !admitted {
		r.metrics.deduplicated(context.Background())
		return
	}
	r.emit(t, message, SourceStdout)
}

func (r *Run) emit(t EventType, message string, source Source) {
	r.mu.Lock()
	r.seq++
	ev := Event{Seq: r.seq, Type: t, Message: message, Source: source, Time: time.Now()}
	if t == EventError && source != SourceSupervisor {
		r.lastError = message
	}
	pushed := r.queue.push(ev)
	r.mu.Unlock()

	if pushed {
		r.metrics.event(context.Background(), t, source)
	}
}

func (r *Run) forward() {
	defer close(r.events)
	for {
		ev, ok := r.queue.pop()
		if !ok {
			return
		}
		r.events <- ev
	}
}

func (r *Run) finish(code int, err error) {
	r.mu.Lock()
	cause := r.cause
	lastError := r.lastError
	r.mu.Unlock()

	res := Result{ExitCode: code}
	switch {
	case code == 0 && err == nil:
		// A stop that raced with a natural exit finds the process already
		// done; the program's own outcome stands.
		res.State = StateCompleted
		if cause != "" {
			r.l.Debug("Process finished before it could be stopped", "cause", cause)
		}
	case cause == StateTimedOut:
		res.State = StateTimedOut
		res.Err = &RunError{State: StateTimedOut, Message: ErrTimedOut.Error(), Err: ErrTimedOut}
	case cause == StateTerminated:
		res.State = StateTerminated
	default:
		message := lastError
		if message == "" && err != nil {
			message = err.Error()
		}
		if message == "" {
			message = fmt.Sprintf("process exited with code %d", code)
		}
		res.State = StateFailed
		res.Err = &RunError{State: StateFailed, Message: message, Err: err}
	}

	r.resolve(res)
}

// resolve settles the run exactly once.
func (r *Run) resolve(res Result) {
	r.resolveOnce.Do(func() {
		res.Duration = time.Since(r.started)

		r.mu.Lock()
		if r.timer != nil {
			r.timer.Stop()
		}
		r.active = nil
		r.mu.Unlock()

		t := EventLog
		if res.State == StateFailed || res.State == StateTimedOut {
			t = EventError
		}
		r.emit(t, describe(res), SourceSupervisor)

		_ = r.handle.Close()
		r.cleanup()

		r.mu.Lock()
		r.state = res.State
		r.result = res
		r.mu.Unlock()

		r.metrics.runResolved(context.Background(), res.State, res.Duration)
		r.l.Info("Run resolved", "state", res.State, "exit_code", res.ExitCode, "duration", res.Duration)

		r.queue.close()
		close(r.done)
	})
}

func describe(res Result) string {
	elapsed := res.Duration.Round(time.Millisecond)
	switch res.State {
	case StateCompleted:
		return fmt.Sprintf("Flow completed in %s", elapsed)
	case StateTerminated:
		return fmt.Sprintf("Flow terminated after %s", elapsed)
	case StateTimedOut:
		return fmt.Sprintf("Flow timed out after %s", elapsed)
	default:
		return fmt.Sprintf("Flow failed with exit code %d after %s", res.ExitCode, elapsed)
	}
}
