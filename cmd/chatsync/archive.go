package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/storage"
)

func archiveCmd() *cobra.Command {
	var maxMB int

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Compress oversized message files into zstd archives",
		Long: `Rotate message files that have grown past the size threshold.

Each oversized messages.md moves into the channel's archive/ directory as a
timestamped .md.zst file, and a fresh live file takes its place. Cursors are
untouched, so incremental sync continues where it left off.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxMB <= 0 {
				maxMB = cfg.Output.ArchiveMaxMB
			}

			store := storage.NewFileStore(cfg.Output.Directory, logger)
			rotated, err := store.RotateLarge(int64(maxMB) * 1024 * 1024)
			if err != nil {
				return fmt.Errorf("rotating archives: %w", err)
			}

			logger.Info("archive rotation complete",
				zap.Int("rotated", rotated),
				zap.Int("max_mb", maxMB),
			)
			fmt.Printf("rotated %d file(s) under %s\n", rotated, store.BaseDir())
			return nil
		},
	}

	cmd.Flags().IntVar(&maxMB, "max-mb", 0, "size threshold in MB (default from config)")

	return cmd
}
