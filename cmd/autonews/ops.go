package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/override"
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Publish a digest of pending medium items now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSurface(func(ctx context.Context, s *override.Surface) override.Result {
			return s.TriggerFlush(ctx)
		})
	},
}

// --- context command ---

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Inspect or change the rolling situation context",
}

var contextShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current context",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		content, err := db.GetContext()
		if err != nil {
			return err
		}
		if content == "" {
			fmt.Println("No context set. Build one with: autonews context reinit")
			return nil
		}
		if at, err := db.GetContextUpdatedAt(); err == nil && at != nil {
			fmt.Printf("Updated %s\n\n", at.In(cfg.Location()).Format("2006-01-02 15:04"))
		}
		fmt.Println(content)
		return nil
	},
}

var contextSetCmd = &cobra.Command{
	Use:   "set [text]",
	Short: "Replace the context with the given text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSurface(func(_ context.Context, s *override.Surface) override.Result {
			return s.SetContext(strings.Join(args, " "))
		})
	},
}

var contextReinitCmd = &cobra.Command{
	Use:   "reinit",
	Short: "Rebuild the context from the last day of source messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSurface(func(ctx context.Context, s *override.Surface) override.Result {
			return s.ReinitializeContext(ctx)
		})
	},
}

var contextMergeCmd = &cobra.Command{
	Use:   "merge [event]",
	Short: "Fold one event into the context",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSurface(func(ctx context.Context, s *override.Surface) override.Result {
			return s.MergeContext(ctx, strings.Join(args, " "))
		})
	},
}

func init() {
	contextCmd.AddCommand(contextShowCmd)
	contextCmd.AddCommand(contextSetCmd)
	contextCmd.AddCommand(contextReinitCmd)
	contextCmd.AddCommand(contextMergeCmd)
}

// --- promote / demote ---

var promoteCmd = &cobra.Command{
	Use:   "promote [id] [bucket]",
	Short: "Move an item one bucket up (low to medium, medium to high)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, bucket, err := parseMove(args)
		if err != nil {
			return err
		}
		return withSurface(func(ctx context.Context, s *override.Surface) override.Result {
			return s.Promote(ctx, id, bucket)
		})
	},
}

var demoteCmd = &cobra.Command{
	Use:   "demote [id] [bucket]",
	Short: "Move an item one bucket down (high to medium, medium to low, low removed)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, bucket, err := parseMove(args)
		if err != nil {
			return err
		}
		return withSurface(func(ctx context.Context, s *override.Surface) override.Result {
			return s.Demote(ctx, id, bucket)
		})
	},
}

func parseMove(args []string) (int64, models.Bucket, error) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid item ID: %s", args[0])
	}
	bucket, ok := models.ParseBucket(args[1])
	if !ok {
		return 0, "", fmt.Errorf("invalid bucket %q (want high, medium or low)", args[1])
	}
	return id, bucket, nil
}

var clearCmd = &cobra.Command{
	Use:       "clear [batch|high|low]",
	Short:     "Delete pending digest items or audit entries of one bucket",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"batch", "high", "low"},
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		return withSurface(func(_ context.Context, s *override.Surface) override.Result {
			switch target {
			case "batch", "medium":
				return s.ClearBatch()
			default:
				return s.ClearAudit(models.Bucket(target))
			}
		})
	},
}

// --- posts command ---

var postsHours int

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "List or delete published posts",
}

var postsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent publications",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		posts, err := db.PublishedSince(time.Now().Add(-time.Duration(postsHours) * time.Hour))
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			fmt.Printf("No posts in the last %d hours.\n", postsHours)
			return nil
		}
		for _, p := range posts {
			preview := strings.ReplaceAll(p.Content, "\n", " ")
			if r := []rune(preview); len(r) > 70 {
				preview = string(r[:70]) + "..."
			}
			edited := ""
			if p.UpdatedAt != nil {
				edited = " (edited)"
			}
			fmt.Printf("  [%d] %s %-12s%s\n        %s\n",
				p.ID, p.PublishedAt.In(cfg.Location()).Format("01-02 15:04"), p.PostType, edited, preview)
		}
		return nil
	},
}

var postsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a post from the channel and the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid post ID: %s", args[0])
		}
		return withSurface(func(ctx context.Context, s *override.Surface) override.Result {
			return s.DeletePost(ctx, id)
		})
	},
}

func init() {
	postsListCmd.Flags().IntVar(&postsHours, "hours", 24, "How far back to list")
	postsCmd.AddCommand(postsListCmd)
	postsCmd.AddCommand(postsDeleteCmd)
}

var replayMinutes int

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-read recent source messages into the ingestion queue",
	Long:  "Replay fetches the last minutes of every active source and enqueues what it finds. Duplicates are skipped; queued messages are processed by the next 'autonews serve'.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSurface(func(ctx context.Context, s *override.Surface) override.Result {
			return s.Replay(ctx, replayMinutes)
		})
	},
}

func init() {
	replayCmd.Flags().IntVar(&replayMinutes, "minutes", 60, "Window to replay")
}
