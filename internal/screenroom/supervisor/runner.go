package supervisor

import (
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Runner launches child processes. The exec-backed implementation below is
// the production one; tests inject the fake from supervisorfakes so no real
// process is spawned.
type Runner interface {
	Start(spec Spec) (Process, error)
}

// Process is the supervisor's view of a running child.
type Process interface {
	PID() int
	// Signal delivers sig to the process group so helpers forked by the
	// child (ffmpeg filters, wm subprocesses) terminate with it.
	Signal(sig syscall.Signal) error
	// Wait blocks until the process exits and returns its exit error.
	Wait() error
}

// ExecRunner launches processes with os/exec. Every child gets its own
// process group; stdout/stderr are discarded (the display and encoder
// processes are chatty and their diagnostics are not ours to keep).
type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Start(spec Spec) (Process, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // Create new process group
		Pgid:    0,    // Use process PID as group ID
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Signal(sig syscall.Signal) error {
	// Negative pid targets the whole process group.
	return syscall.Kill(-p.cmd.Process.Pid, sig)
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

var _ Runner = (*ExecRunner)(nil)
