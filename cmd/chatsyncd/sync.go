package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/chat"
	"github.com/communityagent/chatsync/internal/config"
	"github.com/communityagent/chatsync/internal/discord"
	"github.com/communityagent/chatsync/internal/notify"
	"github.com/communityagent/chatsync/internal/ratelimit"
	"github.com/communityagent/chatsync/internal/status"
	"github.com/communityagent/chatsync/internal/storage"
	"github.com/communityagent/chatsync/internal/syncer"
	"github.com/communityagent/chatsync/internal/telegram"
)

// runSync executes one full incremental pass and reports the outcome to the
// status tracker and notifier. Failures never stop the daemon loop.
func runSync(ctx context.Context, cfg *config.Config, tracker *status.Tracker, notifier notify.Notifier, logger *zap.Logger) {
	logger.Info("starting scheduled sync")
	tracker.SetSyncing()
	start := time.Now()

	summary, err := executeSync(ctx, cfg, logger)
	tracker.SetResult(summary, err)

	if err != nil {
		logger.Error("sync failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		if summary == nil {
			summary = &syncer.Summary{}
		}
		if nerr := notifier.SendFailure(ctx, summary, err); nerr != nil {
			logger.Warn("failure notification not sent", zap.Error(nerr))
		}
		return
	}

	logger.Info("sync succeeded",
		zap.String("run_id", summary.RunID),
		zap.Int("records", summary.TotalRecords),
		zap.Duration("duration", summary.Duration),
	)

	if summary.ServersFailed > 0 {
		if nerr := notifier.SendFailure(ctx, summary, nil); nerr != nil {
			logger.Warn("failure notification not sent", zap.Error(nerr))
		}
		return
	}
	if nerr := notifier.SendSuccess(ctx, summary); nerr != nil {
		logger.Warn("success notification not sent", zap.Error(nerr))
	}
}

// executeSync builds a fresh client and orchestrator per run; the daemon
// holds no connection state between passes.
func executeSync(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*syncer.Summary, error) {
	client := newChatClient(cfg, logger)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	servers, err := client.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	if len(cfg.Servers) > 0 {
		wanted := make(map[string]bool, len(cfg.Servers))
		for _, id := range cfg.Servers {
			wanted[id] = true
		}
		filtered := servers[:0]
		for _, s := range servers {
			if wanted[s.ID] {
				filtered = append(filtered, s)
			}
		}
		servers = filtered
	}

	store := storage.NewFileStore(cfg.Output.Directory, logger)
	budget := ratelimit.New(
		time.Duration(cfg.Rate.BaseDelayMS)*time.Millisecond,
		time.Duration(cfg.Rate.MaxDelaySec)*time.Second,
		cfg.Rate.Jitter,
	)

	settings := syncer.Settings{
		MaxServersParallel:  cfg.Sync.MaxServersParallel,
		MaxChannelsParallel: cfg.Sync.MaxChannelsParallel,
		MaxChannelsPerUnit:  cfg.Sync.MaxChannelsPerServer,
		PriorityChannels:    cfg.Sync.PriorityChannels,
		MaxRetries:          cfg.Sync.MaxRetries,
		MaxRateLimitWait:    time.Duration(cfg.Sync.MaxRateLimitWaitSec) * time.Second,
		BatchSize:           cfg.Sync.BatchSize,
		FlushInterval:       time.Duration(cfg.Sync.FlushIntervalSec) * time.Second,
	}

	orch := syncer.NewOrchestrator(client, store, budget, settings, logger)
	summary := orch.SyncServers(ctx, servers, syncer.Options{
		Days:        cfg.Sync.DefaultDays,
		Incremental: true,
	})

	// Rotation keeps long-running archives bounded between passes.
	if cfg.Output.ArchiveMaxMB > 0 {
		if rotated, err := store.RotateLarge(int64(cfg.Output.ArchiveMaxMB) * 1024 * 1024); err != nil {
			logger.Warn("archive rotation failed", zap.Error(err))
		} else if rotated > 0 {
			logger.Info("rotated oversized archives", zap.Int("count", rotated))
		}
	}

	return summary, nil
}

func newChatClient(cfg *config.Config, logger *zap.Logger) chat.Client {
	switch config.Platform(cfg.Platform) {
	case config.PlatformTelegram:
		return telegram.New(
			cfg.Telegram.APIBaseURL,
			cfg.Telegram.Token,
			cfg.Telegram.ChatIDs,
			cfg.Telegram.RequestsPerSec,
			logger,
		)
	default:
		return discord.New(
			cfg.Discord.APIBaseURL,
			cfg.Discord.GatewayURL,
			cfg.Discord.Token,
			cfg.Discord.RequestsPerSec,
			time.Duration(cfg.Discord.ConnectTimeoutSec)*time.Second,
			logger,
		)
	}
}
