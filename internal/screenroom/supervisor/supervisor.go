package supervisor

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"screenroom/pkg/errors"
	"screenroom/pkg/logger"

	"github.com/google/uuid"
)

// Spec describes a child process to launch.
type Spec struct {
	Name    string   // short label for logs, e.g. "framebuffer"
	Command string   // binary name or path
	Args    []string // command line arguments
	Env     []string // extra KEY=VALUE entries appended to the parent env
	Dir     string   // working directory, empty for inherited
}

// Handle is the opaque reference to a supervised process. The supervisor is
// the only component that stores or signals process identifiers; everything
// else passes handles around.
type Handle struct {
	id        string
	name      string
	proc      Process
	startedAt time.Time

	done    chan struct{} // closed by the reaper when the process exits
	exitErr error
}

// ID returns the supervisor-assigned handle id.
func (h *Handle) ID() string { return h.id }

// PID returns the OS process id. Exposed for logging and bookkeeping only.
func (h *Handle) PID() int { return h.proc.PID() }

// Name returns the label the process was started under.
func (h *Handle) Name() string { return h.name }

// StartedAt returns when the process was launched.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done returns a channel closed once the process has exited and been
// reaped. Callers use it to react to a child dying on its own.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Supervisor starts, health-checks and terminates child OS processes.
type Supervisor struct {
	runner       Runner
	pollInterval time.Duration
	logger       *logger.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// New creates a supervisor on top of the given runner. pollInterval bounds
// how often Stop re-checks a terminating process.
func New(runner Runner, pollInterval time.Duration) *Supervisor {
	return &Supervisor{
		runner:       runner,
		pollInterval: pollInterval,
		logger:       logger.WithField("component", "supervisor"),
		handles:      make(map[string]*Handle),
	}
}

// Start launches the process described by spec and returns its handle.
// Spawn failures (missing binary, permission denied) come back wrapped in
// ErrSpawnFailed; the caller decides whether that is fatal.
func (s *Supervisor) Start(spec Spec) (*Handle, error) {
	proc, err := s.runner.Start(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %v", errors.ErrSpawnFailed, spec.Name, spec.Command, err)
	}

	h := &Handle{
		id:        uuid.NewString(),
		name:      spec.Name,
		proc:      proc,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.handles[h.id] = h
	s.mu.Unlock()

	// Reaper: collects the exit status so the child never zombies and the
	// done channel reflects liveness.
	go func() {
		h.exitErr = proc.Wait()
		close(h.done)

		s.mu.Lock()
		delete(s.handles, h.id)
		s.mu.Unlock()
	}()

	s.logger.Debug("process started", "name", spec.Name, "pid", proc.PID(), "command", spec.Command)
	return h, nil
}

// IsAlive reports whether the process behind the handle is still running.
// Non-blocking; backed by the reaper rather than repeated signal-0 probes.
func (s *Supervisor) IsAlive(h *Handle) bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Stop terminates a supervised process in two phases: send the graceful
// signal, poll for exit up to grace, then kill the process group outright.
// A process that already exited is treated as success.
func (s *Supervisor) Stop(ctx context.Context, h *Handle, graceful syscall.Signal, grace time.Duration) error {
	if h == nil || !s.IsAlive(h) {
		return nil
	}

	log := s.logger.WithFields("name", h.name, "pid", h.PID())

	if err := h.proc.Signal(graceful); err != nil {
		// ESRCH here means the process beat us to the exit.
		log.Debug("graceful signal not delivered", "signal", graceful, "error", err)
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return nil
		case <-ctx.Done():
			_ = h.proc.Signal(syscall.SIGKILL)
			<-h.done
			return ctx.Err()
		case <-deadline.C:
			log.Warn("process did not exit within grace period, killing", "grace", grace)
			_ = h.proc.Signal(syscall.SIGKILL)
			<-h.done
			return nil
		case <-ticker.C:
			// fall through and re-check
		}
	}
}

// ActiveCount returns the number of live supervised processes.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
