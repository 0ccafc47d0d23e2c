package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/config"
	"github.com/communityagent/chatsync/internal/notify"
	"github.com/communityagent/chatsync/internal/status"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(os.Getenv("CHATSYNC_CONFIG"))
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return 1
	}

	interval := time.Duration(cfg.Daemon.IntervalMin) * time.Minute
	logger.Info("daemon configuration loaded",
		zap.String("platform", cfg.Platform),
		zap.Duration("interval", interval),
		zap.Bool("runOnStartup", cfg.Daemon.RunOnStartup),
		zap.String("statusAddr", cfg.Daemon.StatusAddr),
	)

	notifier := notify.New(&notify.Config{
		Enabled: cfg.Notify.Enabled,
		Server:  cfg.Notify.Server,
		Topic:   cfg.Notify.Topic,
		Token:   os.Getenv("CHATSYNC_NTFY_TOKEN"),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	tracker := status.NewTracker()
	statusServer := &http.Server{
		Addr:    cfg.Daemon.StatusAddr,
		Handler: status.NewRouter(tracker, logger),
	}
	go func() {
		logger.Info("status server listening", zap.String("addr", cfg.Daemon.StatusAddr))
		if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = statusServer.Shutdown(shutdownCtx)
	}()

	logger.Info("daemon started")

	if cfg.Daemon.RunOnStartup {
		runSync(ctx, cfg, tracker, notifier, logger)
	}
	tracker.SetNextRun(time.Now().Add(interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
			return 0

		case <-ticker.C:
			runSync(ctx, cfg, tracker, notifier, logger)
			tracker.SetNextRun(time.Now().Add(interval))

		case <-ctx.Done():
			logger.Info("context cancelled, shutting down")
			return 0
		}
	}
}
