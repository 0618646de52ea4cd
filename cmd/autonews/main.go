package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/app"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/config"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/llm"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/logging"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/override"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "autonews",
	Short:        "Automated news curation for a Telegram channel",
	Long:         "autonews ingests source channels and feeds, classifies every message, publishes the important ones, and batches the rest into periodic digests.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			logger = logging.New("info")
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(level)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(demoteCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(postsCmd)
	rootCmd.AddCommand(replayCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("autonews", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/autonews/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the target channel, sources and LLM provider.")
		fmt.Printf("Then export %s with your bot token.\n", config.Defaults().Telegram.BotTokenEnv)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue, digest and publication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		now := time.Now()
		today, err := db.GetDailyStats(database.StartOfDay(now, cfg.Location()))
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		counts, err := db.GetQueueCounts()
		if err != nil {
			return fmt.Errorf("getting queue counts: %w", err)
		}
		rate, err := db.RateCount(now)
		if err != nil {
			return err
		}
		brief, err := db.GetContext()
		if err != nil {
			return err
		}
		sources, err := db.GetActiveSources()
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		fmt.Printf("Target: @%s  (%s)\n\n", cfg.Target.Channel, cfg.Location())
		fmt.Println("Today:")
		fmt.Printf("  High:   %s\n", green(today.High))
		fmt.Printf("  Medium: %s (%d waiting for the next digest)\n", yellow(today.Medium), today.PendingBatch)
		fmt.Printf("  Low:    %d\n", today.Low)
		fmt.Printf("  Posts:  %d\n", today.Published)

		fmt.Println("\nQueue:")
		fmt.Printf("  Total:     %d\n", counts.Total)
		pending := fmt.Sprint(counts.Pending)
		if counts.Pending > 0 {
			pending = yellow(counts.Pending)
		}
		fmt.Printf("  Pending:   %s\n", pending)
		failed := fmt.Sprint(counts.Failed)
		if counts.Failed > 0 {
			failed = red(counts.Failed)
		}
		fmt.Printf("  Failed:    %s\n", failed)

		fmt.Println("\nPublishing:")
		hour := green(rate)
		if limit := cfg.RateLimits.MaxPostsPerHour; limit > 0 && rate > limit {
			hour = red(rate)
		}
		fmt.Printf("  This hour: %s / %d\n", hour, cfg.RateLimits.MaxPostsPerHour)
		fmt.Printf("  Digest every %s, up to %d items\n", cfg.Digest.Interval, cfg.Digest.MaxItems)

		fmt.Println("\nSources:")
		fmt.Printf("  Active: %d\n", len(sources))
		if brief == "" {
			fmt.Printf("  Context: %s\n", yellow("not set (run 'autonews context reinit')"))
		} else {
			fmt.Printf("  Context: %d characters\n", len([]rune(brief)))
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run ingestion, publishing, the digest scheduler and the operator API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, db, err := buildApp()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Operator API at http://%s:%d/api\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Println("Press Ctrl+C to stop")
		return a.Serve(ctx)
	},
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DatabasePath())
}

func buildApp() (*app.App, *database.DB, error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	j := cfg.Judgment
	provider := llm.CreateProvider(j.Provider, j.Model, j.OllamaURL, j.OpenAIModel, j.OpenAIURL, j.APIKeyEnv)
	return app.New(cfg, db, provider, logger), db, nil
}

// withSurface runs fn against an unstarted app and prints its result.
func withSurface(fn func(ctx context.Context, s *override.Surface) override.Result) error {
	a, db, err := buildApp()
	if err != nil {
		return err
	}
	defer db.Close()
	return printResult(fn(context.Background(), a.Override()))
}

func printResult(res override.Result) error {
	if !res.Success {
		return fmt.Errorf("%s", res.Error)
	}
	fmt.Println(color.New(color.FgGreen).Sprint("✓"), res.Message)
	return nil
}
