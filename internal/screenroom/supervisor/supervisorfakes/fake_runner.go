// Package supervisorfakes provides test doubles for the supervisor package
// so manager tests never spawn real processes.
package supervisorfakes

import (
	"fmt"
	"sync"
	"syscall"

	"screenroom/internal/screenroom/supervisor"
)

// FakeRunner records every Start call and hands out FakeProcess instances.
type FakeRunner struct {
	mu        sync.Mutex
	started   []supervisor.Spec
	processes []*FakeProcess
	nextPID   int

	// FailCommands maps command names whose Start should fail, simulating a
	// missing binary.
	FailCommands map[string]bool
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{nextPID: 1000, FailCommands: make(map[string]bool)}
}

func (r *FakeRunner) Start(spec supervisor.Spec) (supervisor.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailCommands[spec.Command] {
		return nil, fmt.Errorf("exec: %q: executable file not found in $PATH", spec.Command)
	}

	r.nextPID++
	p := &FakeProcess{pid: r.nextPID, exited: make(chan struct{})}
	r.started = append(r.started, spec)
	r.processes = append(r.processes, p)
	return p, nil
}

// StartedSpecs returns a copy of every Spec passed to Start, in order.
func (r *FakeRunner) StartedSpecs() []supervisor.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]supervisor.Spec(nil), r.started...)
}

// Processes returns every fake process handed out, in start order.
func (r *FakeRunner) Processes() []*FakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*FakeProcess(nil), r.processes...)
}

// FakeProcess behaves like a well-mannered child: any signal terminates it.
// Set IgnoreSignals to simulate a process that must be SIGKILLed.
type FakeProcess struct {
	pid    int
	exited chan struct{}

	mu            sync.Mutex
	signals       []syscall.Signal
	exitOnce      sync.Once
	IgnoreSignals bool
}

func (p *FakeProcess) PID() int { return p.pid }

func (p *FakeProcess) Signal(sig syscall.Signal) error {
	select {
	case <-p.exited:
		return syscall.ESRCH
	default:
	}

	p.mu.Lock()
	p.signals = append(p.signals, sig)
	ignore := p.IgnoreSignals
	p.mu.Unlock()

	if sig == syscall.SIGKILL || !ignore {
		p.Exit()
	}
	return nil
}

func (p *FakeProcess) Wait() error {
	<-p.exited
	return nil
}

// Exit marks the process as exited, as if it finished on its own.
func (p *FakeProcess) Exit() {
	p.exitOnce.Do(func() { close(p.exited) })
}

// Signals returns every signal delivered so far.
func (p *FakeProcess) Signals() []syscall.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]syscall.Signal(nil), p.signals...)
}

var _ supervisor.Runner = (*FakeRunner)(nil)
var _ supervisor.Process = (*FakeProcess)(nil)
