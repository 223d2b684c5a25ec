package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memohai/negosync/internal/cache"
	"github.com/memohai/negosync/internal/feedback"
	"github.com/memohai/negosync/internal/logger"
)

var recentLimit int

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Print the most recent delivered negotiation messages from the local cache",
	Args:  cobra.NoArgs,
	RunE:  runRecent,
}

func init() {
	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 10, "number of messages to print")
}

func runRecent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := cache.Open(ctx, logger.L, cfg.Cache.Path, cfg.Cache.MaxItems)
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.Recent(ctx, recentLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "no recent negotiation messages")
		return nil
	}
	styles := feedback.NewCardStyles(out, cfg.Feedback.Color && feedback.IsTerminal(os.Stdout))
	for _, e := range entries {
		fmt.Fprintln(out, feedback.RenderCard(styles, feedback.NoticeFor(e.Notification()), e.DeliveredAt))
	}
	return nil
}
