package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/agora/internal/store/migrations"
)

// SchemaState reports the schema version after Migrate.
type SchemaState struct {
	Version uint
	Applied bool // false when the schema was already current
}

// Migrate brings the record store schema up to date. A dirty schema (a
// previously interrupted migration) is reported as an error rather than
// forced, since the record tables are the source of truth.
func (db *DB) Migrate() (*SchemaState, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}

	applied := true
	if err := m.Up(); errors.Is(err, migrate.ErrNoChange) {
		applied = false
	} else if err != nil {
		return nil, fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	if dirty {
		return nil, fmt.Errorf("schema version %d is dirty", version)
	}
	return &SchemaState{Version: version, Applied: applied}, nil
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}
