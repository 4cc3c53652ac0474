// Package migrations runs the daemon's schema migrations against the
// MySQL system-of-record using golang-migrate: an embedded-filesystem
// source, a dirty-state guard, and the mysql dialect driver.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var FS embed.FS

// Run executes all pending migrations from the embedded filesystem
// against db. Only unapplied migrations run.
func Run(db *sql.DB, migrationFS fs.FS) error {
	driver, err := mysql.WithInstance(db, &mysql.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "mysql", driver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("reading migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d, needs manual repair", version)
	}

	slog.Info("running database migrations", "current_version", version)

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}

	if err == migrate.ErrNoChange {
		slog.Info("no pending migrations")
	} else {
		newVersion, _, verr := m.Version()
		if verr != nil {
			return fmt.Errorf("reading new migration version: %w", verr)
		}
		slog.Info("migrations completed", "new_version", newVersion)
	}

	return nil
}
