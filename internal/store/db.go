package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB opens a Postgres pool and waits for it to answer, retrying a few times
// while the database starts.
func NewDB(ctx context.Context, connString string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	const attempts = 5
	backoff := 500 * time.Millisecond
	for i := 1; ; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return &DB{Client: db}, nil
		}
		if i == attempts || ctx.Err() != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", i, err)
		}
		logger.Warn("postgres not ready, retrying", zap.Int("attempt", i), zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff *= 2
	}
}

// Migrate creates the tables and unique indexes the service relies on. It is
// idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Healthy pings the database with the caller's deadline.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
