package utils

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gis-fillers/internal/config"
	"gis-fillers/internal/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

var sqlOpen = sql.Open

func OpenPostgres(driver, dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	switch driver {
	case "", "postgres":
		driver = "postgres"
	case "pgx":
	default:
		return nil, fmt.Errorf("unsupported postgres driver %q", driver)
	}
	db, err := sqlOpen(driver, dsn)
	if err != nil {
		return nil, err
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	return db, nil
}

func OpenPostgresFromConfig(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := OpenPostgres(cfg.PGDriver, cfg.PostgresDSN(), cfg.PGMaxOpen, cfg.PGMaxIdle)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s@%s/%s: %w", cfg.PGUser, cfg.PGHost, cfg.PGDB, err)
	}
	logger.L().Debug("pg_open", "driver", cfg.PGDriver, "host", cfg.PGHost, "db", cfg.PGDB)
	return db, nil
}
