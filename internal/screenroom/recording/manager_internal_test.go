package recording

import (
	"context"
	"testing"
	"time"

	"screenroom/internal/screenroom/supervisor"
	"screenroom/internal/screenroom/supervisor/supervisorfakes"
	"screenroom/pkg/config"
)

func (m *Manager) lockCount() int {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	return len(m.sessionLocks)
}

func TestSessionLocks_PrunedAfterUse(t *testing.T) {
	cfg := config.DefaultConfig
	cfg.Recording.Root = t.TempDir()
	cfg.Process.StopGracePeriod = 50 * time.Millisecond
	cfg.Process.StopPollInterval = time.Millisecond

	sup := supervisor.New(supervisorfakes.NewFakeRunner(), time.Millisecond)
	m := NewManager(&cfg, sup)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := m.StartRecording(ctx, "sess_abc123", ":1", 15, 28); err != nil {
			t.Fatalf("StartRecording failed: %v", err)
		}
		if got := m.lockCount(); got != 0 {
			t.Errorf("Expected 0 session locks after start, got %d", got)
		}
		if _, err := m.StopRecording(ctx, "sess_abc123"); err != nil {
			t.Fatalf("StopRecording failed: %v", err)
		}
		if got := m.lockCount(); got != 0 {
			t.Errorf("Expected 0 session locks after stop, got %d", got)
		}
	}
}
