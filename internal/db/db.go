// Package db wraps the PostgreSQL store behind typed data-access objects.
// Every worker talks to the same five tables: rules, session_days, urls,
// requests and documents.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IshaanNene/goparl/internal/config"
)

// connectTimeout bounds the initial reachability check.
const connectTimeout = 5 * time.Second

// DB holds the connection pool shared by all data-access objects.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens a pooled connection to the configured database and verifies
// it is reachable. appName is reported as the PostgreSQL application_name so
// individual workers can be told apart in pg_stat_activity.
func Connect(ctx context.Context, cfg config.GeneralConfig, appName string, logger *slog.Logger) (*DB, error) {
	pc, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if appName != "" {
		pc.ConnConfig.RuntimeParams["application_name"] = appName
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database %s:%d: %w", cfg.DBHost, cfg.DBPort, err)
	}

	return &DB{
		pool:   pool,
		logger: logger.With("component", "db"),
	}, nil
}

// DSN builds the PostgreSQL connection string for the given settings.
func DSN(cfg config.GeneralConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.DBHost, strconv.Itoa(cfg.DBPort)),
		Path:   "/" + cfg.DBName,
	}
	if cfg.DBUser != "" {
		if cfg.DBPassword != "" {
			u.User = url.UserPassword(cfg.DBUser, cfg.DBPassword)
		} else {
			u.User = url.User(cfg.DBUser)
		}
	}
	return u.String()
}

// Close releases the connection pool.
func (d *DB) Close() {
	d.pool.Close()
}

// Pool exposes the underlying pool for migrations and tests.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// withTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise, so partial writes never leak into
// the store.
func (d *DB) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
