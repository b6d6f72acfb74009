package recording

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"screenroom/internal/screenroom/domain"
	"screenroom/internal/screenroom/supervisor"
	"screenroom/internal/screenroom/validation"
	"screenroom/pkg/config"
	"screenroom/pkg/logger"
)

const outputExtension = ".mp4"

// Manager captures session displays to video files. Recording is
// best-effort relative to the display lifecycle: failures here are reported
// but must never block a session's create or destroy path.
type Manager struct {
	cfg *config.Config
	sup *supervisor.Supervisor
	log *logger.Logger

	mu         sync.RWMutex
	recordings map[string]*sessionRecording

	lockMu       sync.Mutex
	sessionLocks map[string]*sessionLock
}

type sessionRecording struct {
	handle   *domain.RecordingHandle
	proc     *supervisor.Handle
	watchdog chan struct{} // closed to cancel the max-duration watchdog
}

// sessionLock is reference counted so the lock map does not grow by one
// entry per session id the daemon ever saw.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewManager(cfg *config.Config, sup *supervisor.Supervisor) *Manager {
	return &Manager{
		cfg:          cfg,
		sup:          sup,
		log:          logger.WithField("component", "recording-manager"),
		recordings:   make(map[string]*sessionRecording),
		sessionLocks: make(map[string]*sessionLock),
	}
}

// lockSession serializes start/stop for one session id.
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

// StartRecording spawns an encoder reading frames from displayTarget and
// writing under the recordings root. Starting an already-recording session
// returns the existing handle rather than a second encoder. fps <= 0 and
// crf < 0 fall back to the configured defaults; crf 0 is lossless x264.
func (m *Manager) StartRecording(ctx context.Context, sessionID, displayTarget string, fps, crf int) (*domain.RecordingHandle, error) {
	if err := validation.SessionID(sessionID); err != nil {
		return nil, err
	}

	lock := m.lockSession(sessionID)
	defer m.unlockSession(sessionID, lock)

	m.mu.RLock()
	existing, ok := m.recordings[sessionID]
	m.mu.RUnlock()
	if ok {
		m.log.Info("recording already active for session", "sessionId", sessionID,
			"outputPath", existing.handle.OutputPath)
		return existing.handle, nil
	}

	if fps <= 0 {
		fps = m.cfg.Recording.FPS
	}
	if crf < 0 {
		crf = m.cfg.Recording.CRF
	}

	outputPath, err := m.outputPath(sessionID)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.cfg.Recording.Root, 0700); err != nil {
		return nil, fmt.Errorf("create recordings root: %w", err)
	}

	log := m.log.WithFields("sessionId", sessionID, "display", displayTarget,
		"fps", fps, "crf", crf)

	proc, err := m.sup.Start(supervisor.Spec{
		Name:    "encoder",
		Command: m.cfg.Recording.EncoderBinary,
		Args: []string{
			"-nostdin",
			"-f", "x11grab",
			"-video_size", m.cfg.FrameSize(),
			"-framerate", strconv.Itoa(fps),
			"-i", displayTarget,
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-crf", strconv.Itoa(crf),
			"-pix_fmt", "yuv420p", // H.264 players choke on x11grab's native format
			"-y",
			outputPath,
		},
	})
	if err != nil {
		return nil, err
	}

	sr := &sessionRecording{
		handle: &domain.RecordingHandle{
			SessionID:     sessionID,
			DisplayTarget: displayTarget,
			OutputPath:    outputPath,
			Encoder:       domain.ProcessRef{ID: proc.ID(), PID: proc.PID()},
			FPS:           fps,
			CRF:           crf,
			StartedAt:     time.Now(),
		},
		proc:     proc,
		watchdog: make(chan struct{}),
	}

	m.mu.Lock()
	m.recordings[sessionID] = sr
	m.mu.Unlock()

	go m.watchMaxDuration(sessionID, sr)
	go m.watchEncoderExit(sessionID, sr)

	log.Info("recording started", "encoderPid", proc.PID(), "outputPath", outputPath)
	return sr.handle, nil
}

// StopRecording interrupts the encoder so it can flush container metadata,
// force-kills it if unresponsive, and returns the output path. A session
// with no active recording yields ("", nil). A missing or empty output file
// is logged rather than returned as an error; recording problems must not
// block session teardown.
func (m *Manager) StopRecording(ctx context.Context, sessionID string) (string, error) {
	if err := validation.SessionID(sessionID); err != nil {
		return "", err
	}

	lock := m.lockSession(sessionID)
	defer m.unlockSession(sessionID, lock)

	m.mu.Lock()
	sr, ok := m.recordings[sessionID]
	if ok {
		delete(m.recordings, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		m.log.Debug("no active recording for session", "sessionId", sessionID)
		return "", nil
	}

	close(sr.watchdog)

	log := m.log.WithFields("sessionId", sessionID, "outputPath", sr.handle.OutputPath)
	log.Info("stopping recording", "duration", sr.handle.Duration())

	// SIGINT lets the encoder finalize the container before exiting.
	if err := m.sup.Stop(ctx, sr.proc, syscall.SIGINT, m.cfg.Process.StopGracePeriod); err != nil {
		log.Warn("error stopping encoder", "error", err)
	}

	info, err := os.Stat(sr.handle.OutputPath)
	if err != nil {
		log.Warn("recording output file missing after stop", "error", err)
		return "", nil
	}
	if info.Size() == 0 {
		log.Warn("recording output file is empty after stop")
		return "", nil
	}

	log.Info("recording finalized", "sizeBytes", info.Size())
	return sr.handle.OutputPath, nil
}

// IsRecording reports whether the session has an active recording.
func (m *Manager) IsRecording(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.recordings[sessionID]
	return ok
}

// RecordingPath returns the active recording's output path, if any.
func (m *Manager) RecordingPath(sessionID string) (string, bool) {
	if err := validation.SessionID(sessionID); err != nil {
		return "", false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sr, ok := m.recordings[sessionID]
	if !ok {
		return "", false
	}
	return sr.handle.OutputPath, true
}

// ActiveCount returns the number of running recordings.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recordings)
}

// Shutdown stops every active recording.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]string, 0, len(m.recordings))
	for id := range m.recordings {
		sessions = append(sessions, id)
	}
	m.mu.RUnlock()

	m.log.Info("stopping all recordings", "count", len(sessions))
	for _, id := range sessions {
		if _, err := m.StopRecording(ctx, id); err != nil {
			m.log.Warn("failed to stop recording during shutdown", "sessionId", id, "error", err)
		}
	}
}

// outputPath computes the session's recording file path and verifies it
// stays inside the recordings root.
func (m *Manager) outputPath(sessionID string) (string, error) {
	path := filepath.Join(m.cfg.Recording.Root, sessionID+outputExtension)
	return validation.ContainedPath(m.cfg.Recording.Root, path)
}

// watchEncoderExit drops the session's recording state once the encoder
// process is gone. Normal stops remove the state first and make this a
// no-op; an encoder that dies on its own gets cleaned up here so the
// session can start a fresh recording.
func (m *Manager) watchEncoderExit(sessionID string, sr *sessionRecording) {
	<-sr.proc.Done()

	m.mu.Lock()
	current, ok := m.recordings[sessionID]
	if !ok || current != sr {
		m.mu.Unlock()
		return
	}
	delete(m.recordings, sessionID)
	m.mu.Unlock()

	close(sr.watchdog)
	m.log.Warn("encoder exited unexpectedly, recording state dropped",
		"sessionId", sessionID, "outputPath", sr.handle.OutputPath,
		"duration", sr.handle.Duration())
}

// watchMaxDuration stops a recording that exceeds the configured maximum
// duration, as if the caller had requested the stop.
func (m *Manager) watchMaxDuration(sessionID string, sr *sessionRecording) {
	timer := time.NewTimer(m.cfg.Recording.MaxDuration)
	defer timer.Stop()

	select {
	case <-sr.watchdog:
		return
	case <-timer.C:
	}

	m.log.Info("recording reached max duration, stopping",
		"sessionId", sessionID, "maxDuration", m.cfg.Recording.MaxDuration)

	if _, err := m.StopRecording(context.Background(), sessionID); err != nil {
		m.log.Warn("watchdog stop failed", "sessionId", sessionID, "error", err)
	}
}
