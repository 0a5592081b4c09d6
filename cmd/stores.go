package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/tgrelay/internal/config"
	"github.com/nextlevelbuilder/tgrelay/internal/store"
	"github.com/nextlevelbuilder/tgrelay/internal/store/file"
	"github.com/nextlevelbuilder/tgrelay/internal/store/pg"
	"github.com/nextlevelbuilder/tgrelay/internal/store/sqlite"
	"github.com/nextlevelbuilder/tgrelay/internal/upgrade"
)

// openRouteStore opens the configured route store. Postgres databases must
// be migrated to the schema version this binary expects.
func openRouteStore(ctx context.Context, cfg config.DatabaseConfig) (store.RouteStore, error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("RELAY_DATABASE_DSN environment variable is not set")
		}
		db, err := pg.OpenDB(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		s, err := upgrade.CheckSchema(ctx, db)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("check schema: %w", err)
		}
		if err := s.Err(); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w\n%s", err, upgrade.FormatError(s))
		}
		return pg.NewPGRouteStore(db), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		return sqlite.Open(ctx, cfg.Path)
	case "file":
		return file.Open(cfg.RoutesFile)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
