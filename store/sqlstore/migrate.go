package sqlstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// migrate brings the schema to the latest version. An up-to-date schema is
// not an error.
func (s *Store) migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations/"+string(s.dialect))
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	var (
		driver database.Driver
		name   string
	)
	switch s.dialect {
	case SQLite:
		// Shares the store's handle; the migrator is never closed because
		// closing it would close s.db.
		name = "sqlite3"
		driver, err = sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	case Postgres:
		// The pgx driver pins a connection for its lifetime, so it gets its
		// own handle that is released once migrations are done.
		name = "pgx5"
		mdb, openErr := sql.Open("pgx", dsn)
		if openErr != nil {
			return fmt.Errorf("open migration connection: %w", openErr)
		}
		driver, err = pgxmigrate.WithInstance(mdb, &pgxmigrate.Config{})
		if err != nil {
			mdb.Close()
		}
	}
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	if s.dialect == Postgres {
		defer m.Close()
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
