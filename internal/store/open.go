package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Options selects and locates a SharedStore backend.
type Options struct {
	Driver      string // sqlite, postgres or file
	Path        string // database file (sqlite) or directory (file)
	PostgresDSN string
}

// Open opens the backend named by opts.Driver.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (SharedStore, error) {
	switch opts.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, opts.Path, logger)
	case "postgres":
		return OpenPostgres(ctx, opts.PostgresDSN, logger)
	case "file":
		return OpenFile(opts.Path, logger)
	default:
		return nil, fmt.Errorf("Open: unknown store driver %q", opts.Driver)
	}
}
