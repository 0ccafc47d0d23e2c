package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/chat"
)

func sendCmd() *cobra.Command {
	var replyTo string

	cmd := &cobra.Command{
		Use:   "send CHANNEL_ID MESSAGE",
		Short: "Send a message to a channel",
		Long: `Send a message through the configured platform.

Examples:
  chatsync send 123456789 "deploy finished"

  # Reply to an existing message
  chatsync send 123456789 "agreed" --reply-to 987654321`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			channelID, content := args[0], args[1]

			client := newChatClient(cfg, logger)
			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("connecting: %w", err)
			}
			defer func() { _ = client.Close() }()

			// Same pacing governor as the sync fetch path; an explicit
			// rate limit backs off and retries within the retry budget.
			budget := newBudget(cfg)
			var rec *chat.Record
			for attempt := 0; ; attempt++ {
				if err := budget.Wait(ctx); err != nil {
					return err
				}
				var err error
				rec, err = client.SendRecord(ctx, channelID, content, replyTo)
				if err == nil {
					budget.OnSuccess()
					break
				}
				rl, ok := chat.AsRateLimit(err)
				if !ok || attempt >= cfg.Sync.MaxRetries {
					return err
				}
				logger.Warn("send rate limited",
					zap.Duration("retry_after", rl.RetryAfter),
					zap.Int("attempt", attempt+1),
				)
				budget.OnRateLimit(rl.RetryAfter)
			}

			logger.Info("message sent",
				zap.String("channel_id", channelID),
				zap.String("record_id", rec.ID),
			)
			fmt.Printf("sent %s\n", rec.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&replyTo, "reply-to", "", "record ID to reply to")

	return cmd
}
