package recording_test

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"screenroom/internal/screenroom/recording"
	"screenroom/internal/screenroom/supervisor"
	"screenroom/internal/screenroom/supervisor/supervisorfakes"
	"screenroom/pkg/config"
	"screenroom/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*recording.Manager, *supervisorfakes.FakeRunner, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig
	cfg.Recording.Root = t.TempDir()
	cfg.Process.StopGracePeriod = 50 * time.Millisecond
	cfg.Process.StopPollInterval = time.Millisecond
	runner := supervisorfakes.NewFakeRunner()
	sup := supervisor.New(runner, cfg.Process.StopPollInterval)
	return recording.NewManager(&cfg, sup), runner, &cfg
}

func writeOutput(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("not really mp4 bytes"), 0600))
}

func TestStartRecording_EncoderInvocation(t *testing.T) {
	m, runner, cfg := newManager(t)

	h, err := m.StartRecording(context.Background(), "sess_abc123", ":1", 15, 28)
	require.NoError(t, err)

	expectedPath := filepath.Join(cfg.Recording.Root, "sess_abc123.mp4")
	assert.Equal(t, expectedPath, h.OutputPath)
	assert.Equal(t, ":1", h.DisplayTarget)
	assert.True(t, m.IsRecording("sess_abc123"))

	specs := runner.StartedSpecs()
	require.Len(t, specs, 1)
	assert.Equal(t, "ffmpeg", specs[0].Command)
	assert.Equal(t, []string{
		"-nostdin",
		"-f", "x11grab",
		"-video_size", "1024x768",
		"-framerate", "15",
		"-i", ":1",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", "28",
		"-pix_fmt", "yuv420p",
		"-y",
		expectedPath,
	}, specs[0].Args)
}

func TestStartRecording_Idempotent(t *testing.T) {
	m, runner, _ := newManager(t)
	ctx := context.Background()

	first, err := m.StartRecording(ctx, "sess_abc123", ":1", 15, 28)
	require.NoError(t, err)

	second, err := m.StartRecording(ctx, "sess_abc123", ":1", 30, 20)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, runner.StartedSpecs(), 1, "no second encoder may be spawned")
}

func TestStartRecording_DefaultsApplied(t *testing.T) {
	m, _, cfg := newManager(t)

	h, err := m.StartRecording(context.Background(), "sess_abc123", ":1", 0, -1)
	require.NoError(t, err)

	assert.Equal(t, cfg.Recording.FPS, h.FPS)
	assert.Equal(t, cfg.Recording.CRF, h.CRF)
}

func TestStartRecording_LosslessQualityRequestable(t *testing.T) {
	m, runner, _ := newManager(t)

	// crf 0 is valid lossless x264, not "use the default"
	h, err := m.StartRecording(context.Background(), "sess_abc123", ":1", 15, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, h.CRF)

	specs := runner.StartedSpecs()
	require.Len(t, specs, 1)
	assert.Contains(t, specs[0].Args, "-crf")
	assert.Contains(t, specs[0].Args, "0")
}

func TestStartRecording_InvalidSessionID(t *testing.T) {
	m, runner, _ := newManager(t)

	for _, id := range []string{"../escape", "a/b", "a\\b", ""} {
		_, err := m.StartRecording(context.Background(), id, ":1", 15, 28)
		require.Error(t, err, "expected %q to be rejected", id)
		assert.ErrorIs(t, err, errors.ErrInvalidSessionID)
	}
	assert.Empty(t, runner.StartedSpecs(), "no encoder may run for rejected ids")
}

func TestStartRecording_SpawnFailureReported(t *testing.T) {
	m, runner, _ := newManager(t)
	runner.FailCommands["ffmpeg"] = true

	_, err := m.StartRecording(context.Background(), "sess_abc123", ":1", 15, 28)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSpawnFailed)
	assert.False(t, m.IsRecording("sess_abc123"))
}

func TestStopRecording_GracefulInterruptAndPath(t *testing.T) {
	m, runner, _ := newManager(t)
	ctx := context.Background()

	h, err := m.StartRecording(ctx, "sess_abc123", ":1", 15, 28)
	require.NoError(t, err)
	writeOutput(t, h.OutputPath)

	path, err := m.StopRecording(ctx, "sess_abc123")
	require.NoError(t, err)
	assert.Equal(t, h.OutputPath, path)
	assert.False(t, m.IsRecording("sess_abc123"))

	signals := runner.Processes()[0].Signals()
	require.NotEmpty(t, signals)
	assert.Equal(t, syscall.SIGINT, signals[0])
}

func TestStopRecording_NoActiveRecording(t *testing.T) {
	m, _, _ := newManager(t)

	path, err := m.StopRecording(context.Background(), "sess_abc123")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestStopRecording_MissingOutputDoesNotFail(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	_, err := m.StartRecording(ctx, "sess_abc123", ":1", 15, 28)
	require.NoError(t, err)

	// encoder never produced a file
	path, err := m.StopRecording(ctx, "sess_abc123")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.False(t, m.IsRecording("sess_abc123"))
}

func TestStopRecording_EmptyOutputDoesNotFail(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	h, err := m.StartRecording(ctx, "sess_abc123", ":1", 15, 28)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(h.OutputPath, nil, 0600))

	path, err := m.StopRecording(ctx, "sess_abc123")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestRecordingPath(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	_, ok := m.RecordingPath("sess_abc123")
	assert.False(t, ok)

	h, err := m.StartRecording(ctx, "sess_abc123", ":1", 15, 28)
	require.NoError(t, err)

	path, ok := m.RecordingPath("sess_abc123")
	require.True(t, ok)
	assert.Equal(t, h.OutputPath, path)

	_, ok = m.RecordingPath("../escape")
	assert.False(t, ok)
}

func TestWatchdog_StopsLongRecording(t *testing.T) {
	m, runner, cfg := newManager(t)
	cfg.Recording.MaxDuration = 20 * time.Millisecond

	h, err := m.StartRecording(context.Background(), "sess_abc123", ":1", 15, 28)
	require.NoError(t, err)
	writeOutput(t, h.OutputPath)

	assert.Eventually(t, func() bool { return !m.IsRecording("sess_abc123") },
		time.Second, 5*time.Millisecond, "watchdog should stop the recording")
	assert.Eventually(t, func() bool { return len(runner.Processes()[0].Signals()) > 0 },
		time.Second, 5*time.Millisecond, "watchdog stop should signal the encoder")
}

func TestEncoderCrash_DropsRecordingState(t *testing.T) {
	m, runner, _ := newManager(t)
	ctx := context.Background()

	_, err := m.StartRecording(ctx, "sess_abc123", ":1", 15, 28)
	require.NoError(t, err)
	require.True(t, m.IsRecording("sess_abc123"))

	// encoder dies on its own
	runner.Processes()[0].Exit()

	assert.Eventually(t, func() bool { return !m.IsRecording("sess_abc123") },
		time.Second, time.Millisecond, "a dead encoder must not count as recording")

	// the session can record again with a fresh encoder
	h, err := m.StartRecording(ctx, "sess_abc123", ":1", 15, 28)
	require.NoError(t, err)
	assert.True(t, m.IsRecording("sess_abc123"))
	assert.Len(t, runner.StartedSpecs(), 2, "restart must spawn a new encoder")

	writeOutput(t, h.OutputPath)
	path, err := m.StopRecording(ctx, "sess_abc123")
	require.NoError(t, err)
	assert.Equal(t, h.OutputPath, path)
}

func TestShutdown_StopsAllRecordings(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	for _, id := range []string{"sess-a", "sess-b", "sess-c"} {
		_, err := m.StartRecording(ctx, id, ":1", 15, 28)
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.ActiveCount())

	m.Shutdown(ctx)
	assert.Equal(t, 0, m.ActiveCount())
}
