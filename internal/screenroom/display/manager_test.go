package display_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"screenroom/internal/screenroom/display"
	"screenroom/internal/screenroom/state"
	"screenroom/internal/screenroom/supervisor"
	"screenroom/internal/screenroom/supervisor/supervisorfakes"
	"screenroom/pkg/config"
	"screenroom/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig
	cfg.Display.Max = 8
	cfg.Display.SettleDelay = 0
	cfg.Display.ReadyTimeout = 0
	cfg.Process.StopGracePeriod = 50 * time.Millisecond
	cfg.Process.StopPollInterval = time.Millisecond
	return &cfg
}

func newManager(t *testing.T) (*display.Manager, *supervisorfakes.FakeRunner, *state.DisplayPool) {
	t.Helper()
	cfg := testConfig()
	runner := supervisorfakes.NewFakeRunner()
	sup := supervisor.New(runner, cfg.Process.StopPollInterval)
	pool := state.NewDisplayPool(cfg.Display.FirstNumber, cfg.Display.Max, cfg.Display.BasePort)
	return display.NewManager(cfg, sup, pool), runner, pool
}

func TestCreateDisplay_StartsTripleInOrder(t *testing.T) {
	m, runner, _ := newManager(t)

	h, err := m.CreateDisplay(context.Background(), "sess_abc123")
	require.NoError(t, err)
	assert.Equal(t, 1, h.DisplayNumber)
	assert.Equal(t, 5901, h.ScreenPort)
	assert.Equal(t, ":1", h.Target())

	specs := runner.StartedSpecs()
	require.Len(t, specs, 3)

	assert.Equal(t, "Xvfb", specs[0].Command)
	assert.Equal(t, []string{":1", "-screen", "0", "1024x768x24", "-ac", "-nolisten", "tcp"}, specs[0].Args)

	assert.Equal(t, "x11vnc", specs[1].Command)
	assert.Contains(t, specs[1].Args, "-rfbport")
	assert.Contains(t, specs[1].Args, "5901")
	assert.Contains(t, specs[1].Args, "-forever")
	assert.Contains(t, specs[1].Args, "-shared")

	assert.Equal(t, "fluxbox", specs[2].Command)
	assert.Empty(t, specs[2].Args)
	assert.Contains(t, specs[2].Env, "DISPLAY=:1")
}

func TestCreateDisplay_Idempotent(t *testing.T) {
	m, runner, _ := newManager(t)

	first, err := m.CreateDisplay(context.Background(), "sess_abc123")
	require.NoError(t, err)

	second, err := m.CreateDisplay(context.Background(), "sess_abc123")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, runner.StartedSpecs(), 3, "no second triple may be spawned")
}

func TestCreateDisplay_InvalidSessionID(t *testing.T) {
	m, runner, _ := newManager(t)

	_, err := m.CreateDisplay(context.Background(), "../etc/passwd")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidSessionID)
	assert.Empty(t, runner.StartedSpecs())
}

func TestCreateDisplay_RollbackOnSpawnFailure(t *testing.T) {
	m, runner, pool := newManager(t)
	runner.FailCommands["x11vnc"] = true

	_, err := m.CreateDisplay(context.Background(), "sess_abc123")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDisplayCreateFailed)

	// framebuffer was started and must have been torn down again
	procs := runner.Processes()
	require.Len(t, procs, 1)
	assert.NotEmpty(t, procs[0].Signals())

	// reservation is back in the pool and no handle is left behind
	assert.Equal(t, 8, pool.AvailableCount())
	assert.Equal(t, 0, m.ActiveCount())
	_, ok := m.DisplayTarget("sess_abc123")
	assert.False(t, ok)
}

func TestCreateDisplay_PoolExhausted(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := m.CreateDisplay(ctx, fmt.Sprintf("sess-%d", i))
		require.NoError(t, err)
	}

	_, err := m.CreateDisplay(ctx, "sess-overflow")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPoolExhausted)
}

func TestCreateDisplay_ConcurrentSessionsDistinct(t *testing.T) {
	m, _, _ := newManager(t)

	var wg sync.WaitGroup
	results := make(chan int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h, err := m.CreateDisplay(context.Background(), fmt.Sprintf("sess-%d", n))
			if err != nil {
				t.Errorf("CreateDisplay failed: %v", err)
				return
			}
			results <- h.DisplayNumber
		}(i)
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for n := range results {
		assert.False(t, seen[n], "display %d assigned twice", n)
		seen[n] = true
	}
	assert.Len(t, seen, 8)
}

func TestDestroyDisplay_StopsReverseOrderAndReleases(t *testing.T) {
	m, runner, pool := newManager(t)
	ctx := context.Background()

	_, err := m.CreateDisplay(ctx, "sess_abc123")
	require.NoError(t, err)
	require.Equal(t, 7, pool.AvailableCount())

	require.NoError(t, m.DestroyDisplay(ctx, "sess_abc123"))

	assert.Equal(t, 8, pool.AvailableCount())
	assert.Equal(t, 0, m.ActiveCount())

	for _, p := range runner.Processes() {
		assert.NotEmpty(t, p.Signals(), "every triple process must be signaled")
	}

	// the display number is immediately reusable
	h, err := m.CreateDisplay(ctx, "sess_next")
	require.NoError(t, err)
	assert.Equal(t, 1, h.DisplayNumber)
}

func TestDestroyDisplay_NoDisplayIsNoop(t *testing.T) {
	m, _, _ := newManager(t)

	assert.NoError(t, m.DestroyDisplay(context.Background(), "never-created"))
	assert.NoError(t, m.DestroyDisplay(context.Background(), "never-created"))
}

func TestDestroyDisplay_ToleratesDeadProcesses(t *testing.T) {
	m, runner, pool := newManager(t)
	ctx := context.Background()

	_, err := m.CreateDisplay(ctx, "sess_abc123")
	require.NoError(t, err)

	// simulate the whole triple crashing before teardown
	for _, p := range runner.Processes() {
		p.Exit()
	}

	require.NoError(t, m.DestroyDisplay(ctx, "sess_abc123"))
	assert.Equal(t, 8, pool.AvailableCount())
}

func TestDisplayTarget(t *testing.T) {
	m, _, _ := newManager(t)

	_, ok := m.DisplayTarget("sess_abc123")
	assert.False(t, ok)

	_, err := m.CreateDisplay(context.Background(), "sess_abc123")
	require.NoError(t, err)

	target, ok := m.DisplayTarget("sess_abc123")
	require.True(t, ok)
	assert.Equal(t, ":1", target)
}

func TestShutdown_DestroysAllDisplays(t *testing.T) {
	m, _, pool := newManager(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := m.CreateDisplay(ctx, fmt.Sprintf("sess-%d", i))
		require.NoError(t, err)
	}

	m.Shutdown(ctx)

	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, 8, pool.AvailableCount())
}
