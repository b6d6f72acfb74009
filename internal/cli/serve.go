package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"screenroom/internal/screenroom/core"
	"screenroom/internal/screenroom/display"
	"screenroom/internal/screenroom/recording"
	"screenroom/internal/screenroom/state"
	"screenroom/internal/screenroom/storage"
	"screenroom/internal/screenroom/supervisor"
	"screenroom/pkg/config"
	"screenroom/pkg/logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the display orchestrator until interrupted",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	log := logger.WithField("component", "serve")
	log.Info("configuration loaded", "source", configPath)

	if err := os.MkdirAll(cfg.Recording.Root, 0700); err != nil {
		return fmt.Errorf("create recordings root %s: %w", cfg.Recording.Root, err)
	}

	sup := supervisor.New(supervisor.NewExecRunner(), cfg.Process.StopPollInterval)
	pool := state.NewDisplayPool(cfg.Display.FirstNumber, cfg.Display.Max, cfg.Display.BasePort)
	displays := display.NewManager(cfg, sup, pool)
	recorders := recording.NewManager(cfg, sup)

	var store *storage.Store
	if cfg.Storage.Endpoint != "" {
		store, err = storage.NewStore(cfg)
		if err != nil {
			return fmt.Errorf("object storage: %w", err)
		}
		if err := store.Ping(cmd.Context()); err != nil {
			log.Warn("object storage unreachable, uploads will fail until it recovers", "error", err)
		}
	} else {
		log.Warn("no storage endpoint configured, recordings stay on local disk")
	}

	c := core.New(cfg, displays, recorders, store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if store != nil && cfg.Storage.Retention > 0 {
		go sweepLoop(ctx, c, cfg.Storage.SweepInterval, log)
	}

	log.Info("screenroom started",
		"maxDisplays", cfg.Display.Max,
		"recordingsRoot", cfg.Recording.Root,
		"retention", cfg.Storage.Retention)

	<-ctx.Done()
	log.Info("shutdown signal received, stopping all sessions")

	// give every stop sequence room to escalate to SIGKILL
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		3*cfg.Process.StopGracePeriod+5*time.Second)
	defer cancel()
	c.Shutdown(shutdownCtx)

	log.Info("screenroom stopped")
	return nil
}

func sweepLoop(ctx context.Context, c *core.Core, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.RetentionSweep(ctx); err != nil {
				log.Warn("retention sweep failed", "error", err)
			}
		}
	}
}
