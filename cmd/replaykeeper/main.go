// Command replaykeeper watches a replay folder, maintains a chunked
// time-ordered index of its contents, and reclaims disk space from the
// oldest canonical replays when free space runs low.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"

	"replaykeeper/internal/config"
	"replaykeeper/internal/index"
	"replaykeeper/internal/logging"
	"replaykeeper/internal/notify"
	"replaykeeper/internal/reclaim"
	"replaykeeper/internal/watch"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug, // allow all levels; filtering done by ComponentFilterHandler
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "replaykeeper",
		Short: "Replay folder watcher, indexer and space reclaimer",
	}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start watching, indexing, and reclaiming",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return run(ctx, logger)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serverCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("starting replaykeeper",
		"replay_folder", cfg.ReplayFolder,
		"db_path", cfg.DBPath,
		"min_free_space_ratio", cfg.MinFreeSpaceRatio,
		"clean_interval", cfg.CleanInterval)

	db, err := index.Open(cfg.DBPath, cfg.ReplayFolder, index.DefaultChunkMaxSize, logger)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}

	queue := make(chan watch.Event, 256)
	ready := notify.NewLatch()

	watcher := &watch.Watcher{
		ReplayFolder: cfg.ReplayFolder,
		Queue:        queue,
		Ready:        ready,
		Logger:       logger,
	}
	worker := &watch.Worker{
		DB:     db,
		Queue:  queue,
		Ready:  ready,
		Logger: logger,
	}

	reclaimer := reclaim.New(reclaim.Config{
		ReplayFolder:            cfg.ReplayFolder,
		MinFreeSpaceRatio:       cfg.MinFreeSpaceRatio,
		MinReplayRetentionBytes: cfg.MinReplayRetentionBytes,
		MinExpectedDiskBytes:    cfg.MinExpectedDiskBytes,
		Interval:                cfg.CleanInterval,
	}, logger)
	scheduler, err := reclaim.NewScheduler(reclaimer, cfg.CleanInterval, logger)
	if err != nil {
		return fmt.Errorf("build reclaim scheduler: %w", err)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return worker.Run(gctx) })
	group.Go(func() error { return watcher.Run(gctx) })
	group.Go(func() error {
		select {
		case <-ready.C():
		case <-gctx.Done():
			return gctx.Err()
		}
		scheduler.Start()
		<-gctx.Done()
		return scheduler.Stop()
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, watch.ErrWatcherLost) {
			logger.Error("filesystem watch lost, terminating", "error", err)
		}
		return err
	}

	logger.Info("shutdown complete")
	return nil
}
