package supervisor

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// fakeProcess is a scripted child. Output is written through its pipes; it
// exits when a test calls exit or when a stop request or kill is honored.
type fakeProcess struct {
	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	honorStop  bool
	ignoreSoft bool
	unkillable bool
	noSignals  bool
	// finished models a child that already exited 0 while its output is
	// still draining: stop requests and kills change nothing but let the
	// pipes close.
	finished bool
	exited   chan struct{}
	exitOnce sync.Once

	mu           sync.Mutex
	code         int
	stopRequests int
	softKills    int
	hardKills    int
}

func newFakeProcess() *fakeProcess {
	f := &fakeProcess{exited: make(chan struct{})}
	f.stdoutR, f.stdoutW = io.Pipe()
	f.stderrR, f.stderrW = io.Pipe()
	return f
}

func (f *fakeProcess) exit(code int) {
	f.exitOnce.Do(func() {
		f.mu.Lock()
		f.code = code
		f.mu.Unlock()
		_ = f.stdoutW.Close()
		_ = f.stderrW.Close()
		close(f.exited)
	})
}

func (f *fakeProcess) stdout(s string) { _, _ = io.WriteString(f.stdoutW, s) }
func (f *fakeProcess) stderr(s string) { _, _ = io.WriteString(f.stderrW, s) }

func (f *fakeProcess) Pid() int          { return 4242 }
func (f *fakeProcess) Stdout() io.Reader { return f.stdoutR }
func (f *fakeProcess) Stderr() io.Reader { return f.stderrR }

func (f *fakeProcess) Wait() (int, error) {
	<-f.exited
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, nil
}

func (f *fakeProcess) RequestStop() error {
	f.mu.Lock()
	f.stopRequests++
	f.mu.Unlock()
	switch {
	case f.finished:
		go f.exit(0)
	case f.honorStop:
		go f.exit(130)
	}
	return nil
}

func (f *fakeProcess) Kill(force bool) error {
	f.mu.Lock()
	if force {
		f.hardKills++
	} else {
		f.softKills++
	}
	f.mu.Unlock()

	switch {
	case f.finished:
		f.exit(0)
	case f.unkillable:
	case force:
		f.exit(137)
	case !f.ignoreSoft:
		f.exit(143)
	}
	return nil
}

func (f *fakeProcess) Alive() bool {
	select {
	case <-f.exited:
		return false
	default:
		return true
	}
}

func (f *fakeProcess) Exited() <-chan struct{} { return f.exited }
func (f *fakeProcess) SupportsSignals() bool   { return !f.noSignals }

func (f *fakeProcess) Close() error {
	_ = f.stdoutR.Close()
	_ = f.stderrR.Close()
	return nil
}

func (f *fakeProcess) counts() (stops, soft, hard int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopRequests, f.softKills, f.hardKills
}

func testOptions() Options {
	return Options{
		Timeout:     time.Minute,
		GracePeriod: 50 * time.Millisecond,
		KillDelay:   20 * time.Millisecond,
	}.withDefaults()
}

func startFake(f *fakeProcess, opts Options) *Run {
	r := newRun("test-run", f, opts, slog.New(slog.DiscardHandler), nil)
	r.start()
	return r
}

// collect drains the run's events until the channel closes.
func collect(r *Run) []Event {
	var events []Event
	for ev := range r.Events() {
		events = append(events, ev)
	}
	return events
}

func messages(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Message)
	}
	return out
}
