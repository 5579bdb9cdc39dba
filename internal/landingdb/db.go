// Package landingdb manages the Postgres connection pool the landing
// pipeline is built on. The Landing Job queue needs real multi-writer locking
// (SELECT ... FOR UPDATE per-row claims, LOCK TABLE for the submission
// critical section), which only a genuine multi-connection database
// provides.
package landingdb

import (
	"context"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a *sqlx.DB bound to a pgx-backed Postgres connection.
type DB struct {
	conn *sqlx.DB
}

// Open connects to Postgres at dsn and returns a DB ready for use. The
// underlying *sql.DB is registered under the "pgx" stdlib driver, matching
// how the rest of the pack wires pgx through database/sql compatibility
// layers such as sqlx.
func Open(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Migrate runs every embedded migration that hasn't yet been applied.
func (d *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, d.conn.DB, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Reset rolls every migration back. Intended for test setup/teardown, not
// production use.
func (d *DB) Reset(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.DownToContext(ctx, d.conn.DB, "migrations", 0); err != nil {
		return fmt.Errorf("resetting migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn exposes the underlying *sqlx.DB for packages (internal/landing)
// that build their own queries against it.
func (d *DB) Conn() *sqlx.DB {
	return d.conn
}
