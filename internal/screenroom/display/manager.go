package display

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"screenroom/internal/screenroom/domain"
	"screenroom/internal/screenroom/state"
	"screenroom/internal/screenroom/supervisor"
	"screenroom/internal/screenroom/validation"
	"screenroom/pkg/config"
	"screenroom/pkg/errors"
	"screenroom/pkg/logger"
)

// Manager owns the virtual display triple (framebuffer, remote-screen
// server, window manager) for every active session. It is the only
// component that mutates DisplayHandles.
type Manager struct {
	cfg  *config.Config
	sup  *supervisor.Supervisor
	pool *state.DisplayPool
	log  *logger.Logger

	mu       sync.RWMutex
	displays map[string]*sessionDisplay

	lockMu       sync.Mutex
	sessionLocks map[string]*sessionLock
}

// sessionLock is reference counted so the lock map does not grow by one
// entry per session id the daemon ever saw.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// sessionDisplay pairs the externally visible handle with the supervisor
// handles needed for teardown.
type sessionDisplay struct {
	handle       *domain.DisplayHandle
	framebuffer  *supervisor.Handle
	screenServer *supervisor.Handle
	windowMgr    *supervisor.Handle
}

func NewManager(cfg *config.Config, sup *supervisor.Supervisor, pool *state.DisplayPool) *Manager {
	return &Manager{
		cfg:          cfg,
		sup:          sup,
		pool:         pool,
		log:          logger.WithField("component", "display-manager"),
		displays:     make(map[string]*sessionDisplay),
		sessionLocks: make(map[string]*sessionLock),
	}
}

// lockSession serializes create/destroy for one session id so a
// create-then-immediate-destroy race cannot leave orphaned processes.
func (m *Manager) lockSession(sessionID string) *sessionLock {
	m.lockMu.Lock()
	l, ok := m.sessionLocks[sessionID]
	if !ok {
		l = &sessionLock{}
		m.sessionLocks[sessionID] = l
	}
	l.refs++
	m.lockMu.Unlock()

	l.mu.Lock()
	return l
}

// unlockSession releases the session lock and prunes the map entry once no
// caller holds or waits on it.
func (m *Manager) unlockSession(sessionID string, l *sessionLock) {
	l.mu.Unlock()

	m.lockMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.sessionLocks, sessionID)
	}
	m.lockMu.Unlock()
}

// CreateDisplay reserves a display number and stands up the process triple
// for the session. Calling it for a session that already has a display
// returns the existing handle. On any spawn failure the partial bring-up is
// rolled back and the reservation released before the error surfaces.
func (m *Manager) CreateDisplay(ctx context.Context, sessionID string) (*domain.DisplayHandle, error) {
	if err := validation.SessionID(sessionID); err != nil {
		return nil, err
	}

	lock := m.lockSession(sessionID)
	defer m.unlockSession(sessionID, lock)

	m.mu.RLock()
	existing, ok := m.displays[sessionID]
	m.mu.RUnlock()
	if ok {
		m.log.Info("display already exists for session", "sessionId", sessionID,
			"display", existing.handle.DisplayNumber)
		return existing.handle, nil
	}

	displayNum, port, err := m.pool.Reserve()
	if err != nil {
		return nil, err
	}

	log := m.log.WithFields("sessionId", sessionID, "display", displayNum, "port", port)
	log.Info("creating display")

	sd := &sessionDisplay{}

	sd.framebuffer, err = m.startFramebuffer(displayNum)
	if err != nil {
		m.rollback(ctx, sessionID, displayNum, sd)
		return nil, fmt.Errorf("%w: framebuffer: %v", errors.ErrDisplayCreateFailed, err)
	}

	if err = m.waitFramebufferReady(ctx, displayNum, sd.framebuffer); err != nil {
		m.rollback(ctx, sessionID, displayNum, sd)
		return nil, fmt.Errorf("%w: %v", errors.ErrDisplayCreateFailed, err)
	}

	sd.screenServer, err = m.startScreenServer(displayNum, port)
	if err != nil {
		m.rollback(ctx, sessionID, displayNum, sd)
		return nil, fmt.Errorf("%w: screen server: %v", errors.ErrDisplayCreateFailed, err)
	}

	sd.windowMgr, err = m.startWindowManager(displayNum)
	if err != nil {
		m.rollback(ctx, sessionID, displayNum, sd)
		return nil, fmt.Errorf("%w: window manager: %v", errors.ErrDisplayCreateFailed, err)
	}

	sd.handle = &domain.DisplayHandle{
		SessionID:     sessionID,
		DisplayNumber: displayNum,
		ScreenPort:    port,
		Framebuffer:   procRef(sd.framebuffer),
		ScreenServer:  procRef(sd.screenServer),
		WindowManager: procRef(sd.windowMgr),
		CreatedAt:     time.Now(),
	}

	m.mu.Lock()
	m.displays[sessionID] = sd
	m.mu.Unlock()

	log.Info("display created",
		"framebufferPid", sd.framebuffer.PID(),
		"screenServerPid", sd.screenServer.PID(),
		"windowManagerPid", sd.windowMgr.PID())

	return sd.handle, nil
}

// DestroyDisplay stops the triple in reverse start order, cleans up X11
// lock files and returns the display number to the pool. Destroying a
// session with no display is a no-op so duplicate teardown calls from a
// racing orchestrator stay harmless.
func (m *Manager) DestroyDisplay(ctx context.Context, sessionID string) error {
	lock := m.lockSession(sessionID)
	defer m.unlockSession(sessionID, lock)

	m.mu.Lock()
	sd, ok := m.displays[sessionID]
	if ok {
		delete(m.displays, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		m.log.Debug("no display to destroy for session", "sessionId", sessionID)
		return nil
	}

	displayNum := sd.handle.DisplayNumber
	log := m.log.WithFields("sessionId", sessionID, "display", displayNum)
	log.Info("destroying display")

	grace := m.cfg.Process.StopGracePeriod
	for _, h := range []*supervisor.Handle{sd.windowMgr, sd.screenServer, sd.framebuffer} {
		if h == nil {
			continue
		}
		if err := m.sup.Stop(ctx, h, syscall.SIGTERM, grace); err != nil {
			log.Warn("error stopping display process", "process", h.Name(), "error", err)
		}
	}

	m.cleanupLockFiles(displayNum)
	m.pool.Release(displayNum)

	log.Info("display destroyed")
	return nil
}

// DisplayTarget returns the addressable display identifier for the session,
// e.g. ":1", for the automation driver and the recording manager to bind to.
func (m *Manager) DisplayTarget(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sd, ok := m.displays[sessionID]
	if !ok {
		return "", false
	}
	return sd.handle.Target(), true
}

// Handle returns the session's display handle, if any.
func (m *Manager) Handle(sessionID string) (*domain.DisplayHandle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sd, ok := m.displays[sessionID]
	if !ok {
		return nil, false
	}
	return sd.handle, true
}

// ActiveCount returns the number of live displays.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.displays)
}

// Shutdown destroys every live display.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]string, 0, len(m.displays))
	for id := range m.displays {
		sessions = append(sessions, id)
	}
	m.mu.RUnlock()

	m.log.Info("shutting down all displays", "count", len(sessions))
	for _, id := range sessions {
		if err := m.DestroyDisplay(ctx, id); err != nil {
			m.log.Warn("failed to destroy display during shutdown", "sessionId", id, "error", err)
		}
	}
}

func (m *Manager) startFramebuffer(displayNum int) (*supervisor.Handle, error) {
	return m.sup.Start(supervisor.Spec{
		Name:    "framebuffer",
		Command: m.cfg.Display.FramebufferBinary,
		Args: []string{
			fmt.Sprintf(":%d", displayNum),
			"-screen", "0", m.cfg.ScreenGeometry(),
			"-ac", // intra-host trust, access control off
			"-nolisten", "tcp",
		},
	})
}

func (m *Manager) startScreenServer(displayNum, port int) (*supervisor.Handle, error) {
	return m.sup.Start(supervisor.Spec{
		Name:    "screen-server",
		Command: m.cfg.Display.ScreenServerBinary,
		Args: []string{
			"-display", fmt.Sprintf(":%d", displayNum),
			"-rfbport", strconv.Itoa(port),
			"-forever", // keep serving across client disconnects
			"-shared",  // allow multiple simultaneous viewers
			"-nopw",
			"-xkb",
			"-noxrecord",
			"-noxfixes",
			"-noxdamage",
			"-wait", "5",
			"-defer", "5",
		},
	})
}

func (m *Manager) startWindowManager(displayNum int) (*supervisor.Handle, error) {
	return m.sup.Start(supervisor.Spec{
		Name:    "window-manager",
		Command: m.cfg.Display.WindowManager,
		Env:     []string{fmt.Sprintf("DISPLAY=:%d", displayNum)},
	})
}

// waitFramebufferReady gives the framebuffer a settle delay and then waits
// for its X socket, bounded by the ready timeout. A missing socket is only
// a warning (some framebuffer builds skip it); a dead framebuffer is fatal.
func (m *Manager) waitFramebufferReady(ctx context.Context, displayNum int, h *supervisor.Handle) error {
	if m.cfg.Display.SettleDelay > 0 {
		select {
		case <-time.After(m.cfg.Display.SettleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if !m.sup.IsAlive(h) {
		return fmt.Errorf("framebuffer exited during startup on display :%d", displayNum)
	}

	socket := fmt.Sprintf("/tmp/.X11-unix/X%d", displayNum)
	deadline := time.Now().Add(m.cfg.Display.ReadyTimeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socket); err == nil {
			return nil
		}
		if !m.sup.IsAlive(h) {
			return fmt.Errorf("framebuffer exited during startup on display :%d", displayNum)
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.log.Warn("framebuffer socket not observed before timeout, continuing",
		"display", displayNum, "socket", socket)
	return nil
}

// rollback stops whatever part of the triple already started (reverse
// order) and releases the reservation. Failures here are logged only; the
// original create error is the one that surfaces.
func (m *Manager) rollback(ctx context.Context, sessionID string, displayNum int, sd *sessionDisplay) {
	m.log.Warn("rolling back partial display bring-up", "sessionId", sessionID, "display", displayNum)

	grace := m.cfg.Process.StopGracePeriod
	for _, h := range []*supervisor.Handle{sd.windowMgr, sd.screenServer, sd.framebuffer} {
		if h == nil {
			continue
		}
		if err := m.sup.Stop(ctx, h, syscall.SIGTERM, grace); err != nil {
			m.log.Warn("rollback stop failed", "process", h.Name(), "error", err)
		}
	}

	m.cleanupLockFiles(displayNum)
	m.pool.Release(displayNum)
}

// cleanupLockFiles removes the X11 lock files a framebuffer leaves behind;
// stale ones block reuse of the display number.
func (m *Manager) cleanupLockFiles(displayNum int) {
	for _, path := range []string{
		fmt.Sprintf("/tmp/.X%d-lock", displayNum),
		fmt.Sprintf("/tmp/.X11-unix/X%d", displayNum),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.log.Warn("could not remove X11 lock file", "path", path, "error", err)
		}
	}
}

func procRef(h *supervisor.Handle) domain.ProcessRef {
	return domain.ProcessRef{ID: h.ID(), PID: h.PID()}
}
