package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/covid-loader/internal/fetcher"
	"github.com/sells-group/covid-loader/internal/loader"
	"github.com/sells-group/covid-loader/internal/notify"
	"github.com/sells-group/covid-loader/internal/store"
)

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.Store.Driver,
		DatabaseURL: cfg.Store.DatabaseURL,
		Schema:      cfg.Store.Schema,
		Pool: store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// newLoader builds a Loader over st from the loader and notify settings.
func newLoader(st loader.Store) *loader.Loader {
	return loader.New(st,
		loader.WithLogger(zap.L().With(zap.String("component", "loader"))),
		loader.WithNotifier(notify.New(cfg.Notify.WebhookURL, cfg.Notify.Timeout())),
		loader.WithDefaultProvider(cfg.Loader.DefaultProvider),
		loader.WithHospitalSentinel(cfg.Loader.HospitalSentinel),
	)
}

// openOptions configures input resolution from the fetch settings.
func openOptions() fetcher.OpenOptions {
	return fetcher.OpenOptions{
		TempDir: cfg.Loader.TempDir,
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    cfg.Fetch.Timeout(),
			MaxRetries: cfg.Fetch.MaxRetries,
			RatePerSec: cfg.Fetch.RatePerSec,
		}),
		FTP: fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: cfg.Fetch.Timeout()}),
		S3: fetcher.NewS3Fetcher(fetcher.S3Options{
			Region:    cfg.Fetch.S3Region,
			Endpoint:  cfg.Fetch.S3Endpoint,
			PathStyle: cfg.Fetch.S3PathStyle,
		}),
	}
}
