// Package db opens the helpdesk PostgreSQL pool and applies the schema. Migrations are
// embedded in the binary and run through golang-migrate.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/helpdesk-io/helpdesk/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const pingTimeout = 5 * time.Second

// Connect opens a pool sized from cfg and waits up to cfg.ConnectRetryFor for the server to
// answer a ping, so the service can start alongside a database that is still booting.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	pool, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxConnections)
	pool.SetMaxIdleConns(cfg.MinIdleConnections)

	if err := waitReady(ctx, pool, cfg.ConnectRetryFor); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return pool, nil
}

// waitReady pings with exponential backoff until the database answers or retryFor elapses.
// A zero retryFor pings once.
func waitReady(ctx context.Context, pool *sql.DB, retryFor time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = retryFor

	var b backoff.BackOff = policy
	if retryFor <= 0 {
		b = &backoff.StopBackOff{}
	}

	ping := func() error {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return pool.PingContext(pctx)
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("database not ready, retrying", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// MigrationState is the schema_migrations row.
type MigrationState struct {
	Version uint
	Dirty   bool
}

func newMigrator(pool *sql.DB) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(pool, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

var directions = map[string]func(*migrate.Migrate) error{
	"up":   (*migrate.Migrate).Up,
	"down": (*migrate.Migrate).Down,
}

// RunMigrations applies ("up") or rolls back ("down") every embedded migration. Being
// already at the target is not an error.
func RunMigrations(pool *sql.DB, direction string) error {
	apply, ok := directions[direction]
	if !ok {
		return fmt.Errorf("invalid migration direction: %s (must be 'up' or 'down')", direction)
	}

	m, err := newMigrator(pool)
	if err != nil {
		return err
	}
	if err := apply(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	return nil
}

// Status reports the applied schema version. A fresh database is version 0.
func Status(pool *sql.DB) (MigrationState, error) {
	m, err := newMigrator(pool)
	if err != nil {
		return MigrationState{}, err
	}
	return status(m)
}

func status(m *migrate.Migrate) (MigrationState, error) {
	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationState{}, fmt.Errorf("failed to read migration version: %w", err)
	}
	return MigrationState{Version: v, Dirty: dirty}, nil
}

// ClearDirty marks an interrupted migration as complete at its recorded version so the next
// start can retry the following one. It returns the state after any repair.
func ClearDirty(pool *sql.DB) (MigrationState, error) {
	m, err := newMigrator(pool)
	if err != nil {
		return MigrationState{}, err
	}
	state, err := status(m)
	if err != nil || !state.Dirty {
		return state, err
	}
	if err := m.Force(int(state.Version)); err != nil {
		return state, fmt.Errorf("failed to force migration version %d: %w", state.Version, err)
	}
	return status(m)
}
