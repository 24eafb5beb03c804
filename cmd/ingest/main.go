// Package main implements mmrag-ingest, a batch loader for manifests and image directories.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/mmrag/internal/app"
	"github.com/timmy/mmrag/internal/config"
	"github.com/timmy/mmrag/internal/logger"
	"github.com/timmy/mmrag/internal/service"
	"github.com/timmy/mmrag/internal/source"
	"github.com/timmy/mmrag/internal/source/directory"
	"github.com/timmy/mmrag/internal/source/manifest"
)

var (
	configPath   string
	sourceName   string
	manifestPath string
	dirPath      string
	limit        int
	dryRun       bool
	workers      int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mmrag-ingest",
	Short: "Embed and store content from a manifest or image directory",
	Long: `mmrag-ingest reads items from a source, embeds them and writes them to the
configured content store.

Examples:
  # Ingest a JSONL manifest
  mmrag-ingest --manifest data/catalog.jsonl

  # Ingest every image under a directory, first 100 only
  mmrag-ingest --dir data/photos --limit 100

  # Validate a configured source without embedding anything
  mmrag-ingest --source catalog --dry-run`,
	SilenceUsage: true,
	RunE:         runIngest,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.Flags().StringVar(&sourceName, "source", "", "Name of a source from the config file")
	rootCmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to a JSONL manifest")
	rootCmd.Flags().StringVar(&dirPath, "dir", "", "Directory of images to ingest")
	rootCmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of items to ingest (0 = all)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Read and validate items without embedding or writing")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "Override ingest.workers")
	rootCmd.MarkFlagsMutuallyExclusive("source", "manifest", "dir")
	rootCmd.MarkFlagsOneRequired("source", "manifest", "dir")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if workers > 0 {
		cfg.Ingest.Workers = workers
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "mmrag-ingest",
		File:        cfg.Log.File,
		FileOnly:    cfg.Log.FileOnly,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAge:      cfg.Log.MaxAge,
		Compress:    cfg.Log.Compress,
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	src, err := pickSource(a.Sources)
	if err != nil {
		return err
	}

	appLogger.WithFields(logger.Fields{
		logger.FieldSource: src.GetSourceID(),
		"limit":            limit,
		"dry_run":          dryRun,
		"workers":          cfg.Ingest.Workers,
	}).Info("Starting ingestion")

	start := time.Now()
	stats, err := a.Ingest.IngestFromSource(ctx, src, &service.IngestOptions{Limit: limit, DryRun: dryRun})
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "source:    %s\n", src.GetDisplayName())
	fmt.Fprintf(cmd.OutOrStdout(), "total:     %d\n", stats.TotalItems)
	fmt.Fprintf(cmd.OutOrStdout(), "processed: %d\n", stats.ProcessedItems)
	fmt.Fprintf(cmd.OutOrStdout(), "failed:    %d\n", stats.FailedItems)
	if stats.JobID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "job:       %s\n", stats.JobID)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "elapsed:   %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func pickSource(configured map[string]source.Source) (source.Source, error) {
	switch {
	case manifestPath != "":
		return manifest.NewAdapter(manifestPath), nil
	case dirPath != "":
		return directory.NewAdapter(dirPath), nil
	}
	src, ok := configured[sourceName]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", sourceName)
	}
	return src, nil
}
