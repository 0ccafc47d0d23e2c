package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func channelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels [SERVER_ID]",
		Short: "List servers and their text channels",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client := newChatClient(cfg, logger)
			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("connecting: %w", err)
			}
			defer func() { _ = client.Close() }()

			var ids []string
			if len(args) == 1 {
				ids = args
			} else {
				ids = cfg.Servers
			}

			servers, err := resolveServers(ctx, client, ids)
			if err != nil {
				return err
			}

			for _, s := range servers {
				fmt.Printf("%s (%s)\n", s.Name, s.ID)

				channels, err := client.ListChannels(ctx, s.ID)
				if err != nil {
					fmt.Printf("  error: %v\n", err)
					continue
				}
				for _, ch := range channels {
					if ch.Category != "" {
						fmt.Printf("  #%s (%s) [%s]\n", ch.Name, ch.ID, ch.Category)
					} else {
						fmt.Printf("  #%s (%s)\n", ch.Name, ch.ID)
					}
				}
			}

			return nil
		},
	}

	return cmd
}
