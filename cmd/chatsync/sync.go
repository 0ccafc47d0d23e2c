package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/config"
	"github.com/communityagent/chatsync/internal/storage"
	"github.com/communityagent/chatsync/internal/syncer"
)

func syncCmd() *cobra.Command {
	var (
		days    int
		limit   int
		full    bool
		servers []string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync message history from all configured servers",
		Long: `Sync message history into per-server markdown archives.

By default runs incrementally: channels resume from their stored cursor and
channels already current for today are skipped.

Examples:
  # Incremental sync of every reachable server
  chatsync sync

  # Sync specific servers only
  chatsync sync --servers 111222333,444555666

  # Re-fetch the full lookback window, ignoring cursors
  chatsync sync --full --days 30

  # Cap records per channel (useful for a first trial run)
  chatsync sync --limit 200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			targets := cfg.Servers
			if len(servers) > 0 {
				targets = servers
			}
			if err := config.ValidateSyncTargets(targets, cfg.Sync.PriorityChannels); err != nil {
				return err
			}

			client := newChatClient(cfg, logger)
			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("connecting: %w", err)
			}
			defer func() { _ = client.Close() }()

			selected, err := resolveServers(ctx, client, targets)
			if err != nil {
				return err
			}
			if len(selected) == 0 {
				logger.Warn("no servers to sync")
				return nil
			}

			store := storage.NewFileStore(cfg.Output.Directory, logger)
			progress := func(msg string) { fmt.Println(msg) }
			orch := syncer.NewOrchestrator(client, store, newBudget(cfg), syncSettings(cfg, progress), logger)

			if days <= 0 {
				days = cfg.Sync.DefaultDays
			}
			summary := orch.SyncServers(ctx, selected, syncer.Options{
				Days:        days,
				Limit:       limit,
				Incremental: !full,
			})

			logger.Info("sync complete",
				zap.String("run_id", summary.RunID),
				zap.Int("servers_synced", summary.ServersSynced),
				zap.Int("servers_failed", summary.ServersFailed),
				zap.Int("records", summary.TotalRecords),
			)

			if errs := summary.Errors(); len(errs) > 0 {
				for _, e := range errs {
					logger.Error("sync error", zap.String("error", e))
				}
				return fmt.Errorf("%d sync units failed", len(errs))
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "lookback window in days for channels with no cursor (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max records per channel (0 = unlimited)")
	cmd.Flags().BoolVar(&full, "full", false, "ignore stored cursors and re-fetch the whole window")
	cmd.Flags().StringSliceVar(&servers, "servers", nil, "override server IDs from config")

	return cmd
}
