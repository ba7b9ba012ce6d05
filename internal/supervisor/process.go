package supervisor

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/BDNK1/blockflow/internal/constants"
)

// processHandle is the supervisor's view of a child process. The exec-backed
// implementation is the only production one; tests substitute fakes.
type processHandle interface {
	Pid() int
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits. It must only be called after both
	// output streams reached EOF.
	Wait() (int, error)
	// RequestStop asks the child to shut down on its own.
	RequestStop() error
	// Kill stops the process tree. A non-forced kill is a moderate signal
	// where the platform has one.
	Kill(force bool) error
	Alive() bool
	Exited() <-chan struct{}
	SupportsSignals() bool
	Close() error
}

type execHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	exited    chan struct{}
	exitOnce  sync.Once
	stdinOnce sync.Once
	closeOnce sync.Once
}

func startProcess(argv []string, env []string) (*execHandle, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	configureProcess(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ProcessError{Op: "stdin", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProcessError{Op: "stdout", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ProcessError{Op: "stderr", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{Op: "start", Err: err}
	}

	return &execHandle{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		exited: make(chan struct{}),
	}, nil
}

func (h *execHandle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Stdout() io.Reader { return h.stdout }
func (h *execHandle) Stderr() io.Reader { return h.stderr }

func (h *execHandle) Wait() (int, error) {
	err := h.cmd.Wait()
	h.exitOnce.Do(func() { close(h.exited) })

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, &ProcessError{Op: "wait", Err: err}
	}
}

func (h *execHandle) RequestStop() error {
	var err error
	h.stdinOnce.Do(func() {
		_, werr := io.WriteString(h.stdin, constants.TerminateMessage+"\n")
		err = errors.Join(werr, h.stdin.Close())
	})
	return err
}

func (h *execHandle) Kill(force bool) error {
	return killTree(h.Pid(), force)
}

func (h *execHandle) Alive() bool {
	select {
	case <-h.exited:
		return false
	default:
	}
	return processAlive(h.Pid())
}

func (h *execHandle) Exited() <-chan struct{} {
	return h.exited
}

func (h *execHandle) SupportsSignals() bool {
	return signalsSupported
}

// Close releases the stdio pipes. Pending reads on them return immediately.
func (h *execHandle) Close() error {
	h.closeOnce.Do(func() {
		h.stdinOnce.Do(func() { _ = h.stdin.Close() })
		_ = h.stdout.Close()
		_ = h.stderr.Close()
	})
	return nil
}

// mergeEnvironment overlays extra on the host environment.
func mergeEnvironment(extra map[string]string) []string {
	base := os.Environ()
	if len(extra) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(extra))
	replaced := make(map[string]struct{}, len(extra))
	for _, kv := range base {
		equal := strings.IndexByte(kv, '=')
		if equal <= 0 {
			continue
		}
		key := kv[:equal]
		if value, ok := extra[key]; ok {
			merged = append(merged, key+"="+value)
			replaced[key] = struct{}{}
			continue
		}
		merged = append(merged, kv)
	}
	for key, value := range extra {
		if _, ok := replaced[key]; ok {
			continue
		}
		merged = append(merged, key+"="+value)
	}
	return merged
}

// modulePath prepends dir to an existing NODE_PATH value.
func modulePath(dir string) string {
	if existing := os.Getenv("NODE_PATH"); existing != "" {
		return dir + string(os.PathListSeparator) + existing
	}
	return dir
}
