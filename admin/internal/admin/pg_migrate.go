package admin

import (
	"context"
	"log/slog"

	"github.com/malbeclabs/bonds/api/config"
)

// PgMigrateUp runs all pending PostgreSQL migrations
func PgMigrateUp(ctx context.Context, log *slog.Logger, cfg config.PgConfig) error {
	return config.MigrateUp(ctx, log, cfg.ConnString())
}

// PgMigrateDown rolls back the last PostgreSQL migration
func PgMigrateDown(ctx context.Context, log *slog.Logger, cfg config.PgConfig) error {
	if err := config.MigrateDown(ctx, log, cfg.ConnString()); err != nil {
		return err
	}
	log.Info("PostgreSQL migration rollback completed")
	return nil
}

// PgMigrateStatus shows the status of all PostgreSQL migrations
func PgMigrateStatus(ctx context.Context, log *slog.Logger, cfg config.PgConfig) error {
	log.Info("PostgreSQL migration status")
	return config.MigrateStatus(ctx, cfg.ConnString())
}
