package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Journal schema, NNNNNN_name.up.sql / NNNNNN_name.down.sql pairs.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrator binds the embedded schema to db. The returned Migrate is not
// closed: closing it would close db as well.
func migrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("journal migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("journal migrations: postgres driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "postgres", driver)
}

// RunMigrations brings the journal schema up to date. Running it on an
// up-to-date database is a no-op; a dirty schema is an error.
func RunMigrations(db *sql.DB) error {
	m, err := migrator(db)
	if err != nil {
		return err
	}
	log := slog.With(slog.String("component", "db_migrate"))
	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		log.Info("journal schema up to date")
		return nil
	case err != nil:
		return fmt.Errorf("apply journal migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("journal schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("journal schema dirty at version %d", version)
	}
	log.Info("journal schema migrated", slog.Uint64("version", uint64(version)))
	return nil
}

// MigrateDown reverts the newest migration.
func MigrateDown(db *sql.DB) error {
	m, err := migrator(db)
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("revert journal migration: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied version; 0 means nothing is applied.
func SchemaVersion(db *sql.DB) (version uint, dirty bool, err error) {
	m, err := migrator(db)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
