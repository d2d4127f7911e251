// Package readmodel projects committed ledger entries into the derived
// Postgres relational store spec §4.9 describes as the HTTP/Search surface's
// read model: idempotent on replay, respecting each entry's embedded
// commit timestamp for out-of-order delete-supersede semantics. Schema
// migrations are applied with golang-migrate against embedded SQL files,
// following the teacher's own migrations-as-embedded-assets approach
// (system/platform/migrations) but driven through golang-migrate's
// source/iofs + database/postgres drivers instead of a hand-rolled applier,
// since golang-migrate is already part of the domain stack.
package readmodel

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies every pending embedded migration against db.
func Migrate(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("readmodel: postgres driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("readmodel: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("readmodel: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("readmodel: apply migrations: %w", err)
	}
	return nil
}
