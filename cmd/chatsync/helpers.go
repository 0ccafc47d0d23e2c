package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/chat"
	"github.com/communityagent/chatsync/internal/config"
	"github.com/communityagent/chatsync/internal/discord"
	"github.com/communityagent/chatsync/internal/ratelimit"
	"github.com/communityagent/chatsync/internal/syncer"
	"github.com/communityagent/chatsync/internal/telegram"
)

// newChatClient builds the platform adapter the config selects.
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

func newBudget(cfg *config.Config) *ratelimit.Budget {
	return ratelimit.New(
		time.Duration(cfg.Rate.BaseDelayMS)*time.Millisecond,
		time.Duration(cfg.Rate.MaxDelaySec)*time.Second,
		cfg.Rate.Jitter,
	)
}

func syncSettings(cfg *config.Config, progress syncer.ProgressFunc) syncer.Settings {
	return syncer.Settings{
		MaxServersParallel:  cfg.Sync.MaxServersParallel,
		MaxChannelsParallel: cfg.Sync.MaxChannelsParallel,
		MaxChannelsPerUnit:  cfg.Sync.MaxChannelsPerServer,
		PriorityChannels:    cfg.Sync.PriorityChannels,
		MaxRetries:          cfg.Sync.MaxRetries,
		MaxRateLimitWait:    time.Duration(cfg.Sync.MaxRateLimitWaitSec) * time.Second,
		BatchSize:           cfg.Sync.BatchSize,
		FlushInterval:       time.Duration(cfg.Sync.FlushIntervalSec) * time.Second,
		Progress:            progress,
	}
}

// resolveServers lists reachable servers and filters by the configured or
// flag-provided ID list. An explicitly requested ID that is not reachable is
// an error; with no filter, everything visible is synced.
func resolveServers(ctx context.Context, client chat.Client, ids []string) ([]chat.Server, error) {
	servers, err := client.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	if len(ids) == 0 {
		return servers, nil
	}

	byID := make(map[string]chat.Server, len(servers))
	for _, s := range servers {
		byID[s.ID] = s
	}

	selected := make([]chat.Server, 0, len(ids))
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("server %s not reachable with this token", id)
		}
		selected = append(selected, s)
	}
	return selected, nil
}
