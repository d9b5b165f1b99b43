package migrator

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/sbilibin2017/cbr-rates-loader/internal/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrStorageNotReady is returned when the schema could not be brought up
// within the retry budget. Callers must abort startup on it.
var ErrStorageNotReady = errors.New("storage did not become ready")

const (
	defaultMaxAttempts = 30
	defaultRetryDelay  = 2 * time.Second
)

// Migrator brings the schema up to date before any import touches storage.
// Each attempt opens a fresh connection, so a database that is still
// starting up is retried rather than failed.
type Migrator struct {
	dsn         string
	maxAttempts int
	retryDelay  time.Duration
}

// New creates a Migrator with the default retry budget (30 attempts, 2s apart).
func New(dsn string) *Migrator {
	return &Migrator{
		dsn:         dsn,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
}

// EnsureReady applies embedded migrations, retrying while the database is
// unreachable. Exhausting the retry budget returns ErrStorageNotReady.
func (m *Migrator) EnsureReady(ctx context.Context) error {
	var lastErr error

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		lastErr = m.migrateOnce(ctx)
		if lastErr == nil {
			logger.Log.Infow("database schema is ready", "attempt", attempt)
			return nil
		}

		logger.Log.Warnw("database not ready yet",
			"attempt", attempt,
			"max_attempts", m.maxAttempts,
			"retry_delay", m.retryDelay,
			"error", lastErr,
		)

		if attempt == m.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.retryDelay):
		}
	}

	return fmt.Errorf("%w: %d attempts, last error: %v", ErrStorageNotReady, m.maxAttempts, lastErr)
}

// migrateOnce opens a fresh connection, applies migrations and closes it.
func (m *Migrator) migrateOnce(ctx context.Context) error {
	db, err := sqlx.ConnectContext(ctx, "pgx", m.dsn)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer db.Close()

	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := mg.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}
