package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const migrationsDir = "migrations"

// Migrate applies all pending migrations from the embedded file system.
func Migrate(ctx context.Context, db *DB) error {
	return WithMigrator(db, func(sqlDB *sql.DB) error {
		if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		return nil
	})
}

// Rollback undoes the most recent migration.
func Rollback(ctx context.Context, db *DB) error {
	return WithMigrator(db, func(sqlDB *sql.DB) error {
		if err := goose.DownContext(ctx, sqlDB, migrationsDir); err != nil {
			return fmt.Errorf("rollback migration: %w", err)
		}
		return nil
	})
}

// MigrationStatus prints the applied state of every migration.
func MigrationStatus(ctx context.Context, db *DB) error {
	return WithMigrator(db, func(sqlDB *sql.DB) error {
		return goose.StatusContext(ctx, sqlDB, migrationsDir)
	})
}

// WithMigrator opens a database/sql handle over the pool's config with goose
// pointed at the embedded migrations.
func WithMigrator(db *DB, fn func(*sql.DB) error) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	sqlDB := stdlib.OpenDB(*db.Pool.Config().ConnConfig)
	defer sqlDB.Close()

	return fn(sqlDB)
}
