// Package database wires the Postgres connection pool, runs embedded schema
// migrations, and exposes the generated ent client to the rest of the
// module.
package database

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tbenself/clawops/ent"
	"github.com/tbenself/clawops/pkg/config"
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps the generated ent client and keeps a handle to the
// underlying *sql.DB for health checks and connection-pool tuning.
type Client struct {
	*ent.Client
	db *stdsql.DB
}

// DB returns the underlying database connection.
func (c *Client) DB() *stdsql.DB {
	return c.db
}

// NewClientFromEnt wraps an existing ent client, for use in tests that
// construct their own driver (e.g. against a testcontainers Postgres).
func NewClientFromEnt(entClient *ent.Client, db *stdsql.DB) *Client {
	return &Client{Client: entClient, db: db}
}

// NewClient opens a pooled Postgres connection, runs pending migrations,
// and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg config.DBConfig) (*Client, error) {
	db, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	drv := entsql.OpenDB(dialect.Postgres, db)
	entClient := ent.NewClient(ent.Driver(drv))

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = entClient.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Client{Client: entClient, db: db}, nil
}

// runMigrations applies every pending migration embedded in the binary.
// Migration files live under pkg/database/migrations and are embedded at
// compile time so a deployed binary never depends on external SQL files.
func runMigrations(db *stdsql.DB, databaseName string) error {
	has, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("checking embedded migrations: %w", err)
	}
	if !has {
		return fmt.Errorf("no embedded migration files found — binary may be built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	// Close only the source driver — calling m.Close() would also close the
	// shared *sql.DB passed to postgres.WithInstance, breaking the ent client.
	return sourceDriver.Close()
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading embedded migrations: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > 4 && e.Name()[len(e.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
