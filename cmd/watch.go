package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/covid-loader/internal/fetcher"
	"github.com/sells-group/covid-loader/internal/loader"
	"github.com/sells-group/covid-loader/internal/model"
	"github.com/sells-group/covid-loader/internal/watch"
)

var watchDir string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Load extracts as they are dropped into a directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if watchDir != "" {
			cfg.Watch.Dir = watchDir
		}
		if err := cfg.Validate("watch"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		w := watch.New(cfg.Watch.Dir, cfg.Watch.Patterns, loadFileHandler(newLoader(st)))
		return w.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "directory to watch (default from config)")
	rootCmd.AddCommand(watchCmd)
}

// loadFileHandler loads each dropped file in append mode.
func loadFileHandler(l *loader.Loader) watch.Handler {
	return func(ctx context.Context, path string) error {
		inputs, cleanup, err := fetcher.Open(ctx, path, fetcher.OpenOptions{TempDir: cfg.Loader.TempDir})
		defer cleanup()
		if err != nil {
			return err
		}
		sums, err := l.LoadAll(ctx, inputs, loader.Options{Mode: model.ModeAppend}, cfg.Loader.Concurrency)
		for _, s := range sums {
			if s != nil {
				zap.L().Info("file loaded",
					zap.String("file", s.File),
					zap.Int("facts", s.FactsWritten),
					zap.Int("mismatches", s.Mismatches),
				)
			}
		}
		return err
	}
}
