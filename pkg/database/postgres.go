package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/scholarflow-api/pkg/config"
)

// ApplicationName tags ledger connections in pg_stat_activity.
const ApplicationName = "scholarflow-ledger"

// DSN renders the libpq connection string for the configuration.
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
		ApplicationName,
	)
}

// NewPostgres opens the ledger database. The startup ping is bounded by ctx.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger database %s@%s:%d: %w", cfg.Name, cfg.Host, cfg.Port, err)
	}
	return db, nil
}

// LedgerReady reports whether the ledger schema is reachable. A database that
// answers pings but has not been migrated is not ready.
func LedgerReady(db *sqlx.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		var n int
		if err := db.GetContext(ctx, &n, `SELECT count(*) FROM grants`); err != nil {
			return fmt.Errorf("ledger schema: %w", err)
		}
		return nil
	}
}
