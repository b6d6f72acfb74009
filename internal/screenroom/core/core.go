package core

import (
	"context"
	"errors"
	"time"

	"screenroom/internal/screenroom/display"
	"screenroom/internal/screenroom/recording"
	"screenroom/internal/screenroom/storage"
	"screenroom/pkg/config"
	"screenroom/pkg/logger"
)

var errStorageNotConfigured = errors.New("object storage not configured")

// Core is the session-facing facade the orchestrator drives. It wires the
// display manager, recording manager and recording storage into the
// create/destroy flow and owns nothing the managers don't already own.
type Core struct {
	cfg       *config.Config
	displays  *display.Manager
	recorders *recording.Manager
	store     *storage.Store // nil when no object store is configured
	log       *logger.Logger
}

// SessionInfo is what the orchestrator gets back from CreateSession; the
// display target is what the automation driver binds to.
type SessionInfo struct {
	SessionID     string
	DisplayTarget string
	DisplayNumber int
	ScreenPort    int
	Recording     bool
	RecordingPath string
}

// SessionResult summarizes a destroyed session.
type SessionResult struct {
	SessionID string
	ObjectKey string // empty when nothing was recorded or upload failed
}

func New(cfg *config.Config, displays *display.Manager, recorders *recording.Manager, store *storage.Store) *Core {
	return &Core{
		cfg:       cfg,
		displays:  displays,
		recorders: recorders,
		store:     store,
		log:       logger.WithField("component", "core"),
	}
}

// CreateSession stands up the session's display and, when requested, starts
// a recording. Recording failures are logged and swallowed: a session must
// stay fully usable even if recording never starts.
func (c *Core) CreateSession(ctx context.Context, sessionID string, record bool) (*SessionInfo, error) {
	h, err := c.displays.CreateDisplay(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	info := &SessionInfo{
		SessionID:     sessionID,
		DisplayTarget: h.Target(),
		DisplayNumber: h.DisplayNumber,
		ScreenPort:    h.ScreenPort,
	}

	if record {
		// fps 0 / crf -1 select the configured defaults
		rh, err := c.recorders.StartRecording(ctx, sessionID, h.Target(), 0, -1)
		if err != nil {
			c.log.Warn("recording did not start, session continues without it",
				"sessionId", sessionID, "error", err)
		} else {
			info.Recording = true
			info.RecordingPath = rh.OutputPath
		}
	}

	return info, nil
}

// DestroySession tears the session down in order: stop the recording,
// upload what it produced, destroy the display. Recording and upload
// problems are logged but never stop the teardown; a broken recording must
// not leave a zombie display or a leaked display number.
func (c *Core) DestroySession(ctx context.Context, sessionID string) (*SessionResult, error) {
	result := &SessionResult{SessionID: sessionID}

	localPath, err := c.recorders.StopRecording(ctx, sessionID)
	if err != nil {
		c.log.Warn("recording stop failed during teardown", "sessionId", sessionID, "error", err)
	}

	if localPath != "" && c.store != nil {
		key, err := c.store.Upload(ctx, sessionID, localPath)
		if err != nil {
			c.log.Warn("recording upload failed, local file retained",
				"sessionId", sessionID, "path", localPath, "error", err)
		} else {
			result.ObjectKey = key
		}
	}

	if err := c.displays.DestroyDisplay(ctx, sessionID); err != nil {
		return result, err
	}

	return result, nil
}

// SessionTarget returns the display identifier for an active session.
func (c *Core) SessionTarget(sessionID string) (string, bool) {
	return c.displays.DisplayTarget(sessionID)
}

// RecordingURL issues a presigned download URL for the session's stored
// recording.
func (c *Core) RecordingURL(ctx context.Context, sessionID string, ttl time.Duration) (string, error) {
	if c.store == nil {
		return "", errStorageNotConfigured
	}
	return c.store.DownloadURL(ctx, sessionID, ttl)
}

// RetentionSweep deletes stored recordings older than the configured
// retention window. Returns the number deleted; a zero retention disables
// the sweep.
func (c *Core) RetentionSweep(ctx context.Context) (int, error) {
	if c.store == nil || c.cfg.Storage.Retention <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-c.cfg.Storage.Retention)
	n, err := c.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return n, err
	}
	if n > 0 {
		c.log.Info("retention sweep removed recordings", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Shutdown stops every recording and destroys every display.
func (c *Core) Shutdown(ctx context.Context) {
	c.recorders.Shutdown(ctx)
	c.displays.Shutdown(ctx)
}
