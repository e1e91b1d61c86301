// Package migrate applies the issuer's embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/shopease/sessionkeeper/migrations"
)

// Up runs all pending migrations against dsn.
func Up(ctx context.Context, dsn string, log *zap.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	if log != nil {
		if v, err := goose.GetDBVersionContext(ctx, db); err == nil {
			log.Info("schema migrated", zap.Int64("version", v))
		}
	}
	return nil
}
