package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

func migrationSource() (source.Driver, error) {
	return iofs.New(migrationFiles, "migrations")
}

func (s *Store) migrator() (*migrate.Migrate, error) {
	src, err := migrationSource()
	if err != nil {
		return nil, fmt.Errorf("postgres: migration source: %w", err)
	}

	// golang-migrate drives database/sql; it gets a short-lived handle of its
	// own so closing the migrator never touches the store's pool.
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		_ = db.Close()
		_ = src.Close()
		return nil, fmt.Errorf("postgres: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		_ = driver.Close()
		_ = src.Close()
		return nil, fmt.Errorf("postgres: migrator: %w", err)
	}
	return m, nil
}

// Migrate applies every pending migration. An up-to-date schema is not an
// error. Cancelling ctx stops after the migration in flight.
func (s *Store) Migrate(ctx context.Context) error {
	return s.runMigration(ctx, "migrate up", func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateTo moves the schema to version, up or down.
func (s *Store) MigrateTo(ctx context.Context, version uint) error {
	return s.runMigration(ctx, "migrate to version", func(m *migrate.Migrate) error { return m.Migrate(version) })
}

// MigrationVersion reports the applied schema version. A database with no
// migrations applied reports version 0.
func (s *Store) MigrationVersion(ctx context.Context) (version uint, dirty bool, err error) {
	m, err := s.migrator()
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(m)

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("postgres: migration version: %w", err)
	}
	return version, dirty, nil
}

func (s *Store) runMigration(ctx context.Context, op string, run func(*migrate.Migrate) error) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := run(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	return ctx.Err()
}

func closeMigrator(m *migrate.Migrate) {
	_, _ = m.Close()
}
