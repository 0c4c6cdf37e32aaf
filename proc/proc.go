// Package proc wraps one spawned test executable: its output streams, exit
// notification, elapsed-time tracking and kill-with-escalation.
package proc

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/alessio/shellescape"
	"github.com/ethereum/go-ethereum/log"
	"github.com/muesli/cancelreader"
	"golang.org/x/sys/unix"
)

// DefaultKillEscalation is how long a process gets to exit after SIGTERM
// before it is killed outright.
const DefaultKillEscalation = 2 * time.Second

// Spec describes one process to spawn.
type Spec struct {
	Path string
	Args []string
	Dir  string
	Env  []string // appended to the inherited environment
	Nice int      // scheduling priority delta, 0 leaves the priority alone
}

// ExitStatus is the terminal state of a spawned process.
type ExitStatus struct {
	Code   int
	Signal string // non-empty when the process died from a signal
	Err    error  // non-exit errors (start/wait plumbing)
}

// Signalled reports whether the process was terminated by a signal.
func (s ExitStatus) Signalled() bool { return s.Signal != "" }

// Handle is one live spawned process.
type Handle struct {
	log log.Logger
	cmd *exec.Cmd

	stdout cancelreader.CancelReader
	stderr cancelreader.CancelReader

	// raw pipe ends; reaping never closes them, Close does
	stdoutPipe io.Closer
	stderrPipe io.Closer

	started time.Time
	done    chan struct{}

	killOnce sync.Once

	mu   sync.Mutex
	exit ExitStatus
}

// Spawn starts the process and wires its output streams. The command line is
// logged shell-escaped for copy-paste reproduction. Lowering the scheduling
// priority is best-effort; failures are logged, never fatal.
func Spawn(logger log.Logger, spec Spec) (*Handle, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("executable path is required")
	}
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	logger.Debug("Spawning process",
		"command", shellescape.QuoteCommand(append([]string{spec.Path}, spec.Args...)),
		"dir", spec.Dir)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Path, err)
	}

	stdout, err := cancelreader.NewReader(stdoutPipe)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("wrapping stdout: %w", err)
	}
	stderr, err := cancelreader.NewReader(stderrPipe)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("wrapping stderr: %w", err)
	}

	if spec.Nice != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, cmd.Process.Pid, spec.Nice); err != nil {
			logger.Warn("Failed to adjust process priority", "pid", cmd.Process.Pid, "err", err)
		}
	}

	h := &Handle{
		log:        logger,
		cmd:        cmd,
		stdout:     stdout,
		stderr:     stderr,
		stdoutPipe: stdoutPipe,
		stderrPipe: stderrPipe,
		started:    time.Now(),
		done:       make(chan struct{}),
	}

	go h.reap()
	return h, nil
}

// reap waits on the process itself, never through cmd.Wait: Wait closes the
// output pipes on exit, which would drop buffered data still being drained
// and strand readers blocked on a dead fd. Stream lifetime belongs to Close.
func (h *Handle) reap() {
	state, err := h.cmd.Process.Wait()

	status := ExitStatus{}
	switch {
	case err != nil:
		status.Err = err
	case !state.Success():
		status.Code = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = ws.Signal().String()
		}
	}

	h.mu.Lock()
	h.exit = status
	h.mu.Unlock()
	close(h.done)
}

// Stdout returns the process stdout stream.
func (h *Handle) Stdout() io.Reader { return h.stdout }

// Stderr returns the process stderr stream.
func (h *Handle) Stderr() io.Reader { return h.stderr }

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exit returns the exit status. Only meaningful after Done is closed.
func (h *Handle) Exit() ExitStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit
}

// Pid returns the spawned process ID.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Elapsed returns the wall-clock time since the process started.
func (h *Handle) Elapsed() time.Duration { return time.Since(h.started) }

// Kill asks the process to terminate and escalates to SIGKILL if it has not
// exited after the escalation delay. Safe to call more than once.
func (h *Handle) Kill(escalation time.Duration) {
	h.killOnce.Do(func() {
		if escalation <= 0 {
			escalation = DefaultKillEscalation
		}
		h.log.Debug("Killing process", "pid", h.Pid(), "escalation", escalation)
		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			h.log.Debug("SIGTERM failed, killing outright", "pid", h.Pid(), "err", err)
			_ = h.cmd.Process.Kill()
			return
		}
		go func() {
			select {
			case <-h.done:
			case <-time.After(escalation):
				h.log.Warn("Process ignored SIGTERM, escalating", "pid", h.Pid())
				_ = h.cmd.Process.Kill()
			}
		}()
	})
}

// CancelReads aborts any blocked Read on the output streams. Used when a run
// is cancelled so drain loops unblock immediately.
func (h *Handle) CancelReads() {
	h.stdout.Cancel()
	h.stderr.Cancel()
}

// Close releases stream resources, including the pipe ends the reaper left
// open. The process itself is not touched.
func (h *Handle) Close() {
	_ = h.stdout.Close()
	_ = h.stderr.Close()
	_ = h.stdoutPipe.Close()
	_ = h.stderrPipe.Close()
}
