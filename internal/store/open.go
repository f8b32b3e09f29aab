package store

import (
	"context"

	"github.com/rotisserie/eris"
)

// Options selects and configures a Store backend.
type Options struct {
	Driver      string
	DatabaseURL string
	Schema      string
	Pool        PoolConfig
}

// Open connects to the backend named by opts.Driver ("postgres" or "sqlite").
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "sqlite":
		dsn := opts.DatabaseURL
		if dsn == "" {
			dsn = "covid.db"
		}
		return NewSQLite(dsn)
	case "postgres", "":
		if opts.DatabaseURL == "" {
			return nil, eris.New("store: database_url is required for postgres (LOADER_STORE_DATABASE_URL)")
		}
		return NewPostgres(ctx, opts.DatabaseURL, opts.Schema, &opts.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", opts.Driver)
	}
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
