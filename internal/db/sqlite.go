package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// Open sqlite database and apply embedded migrations
// dsn: 'sqlite://path/to/file.db' or plain file path, ':memory:' is allowed for tests
func OpenSQLiteAndMigrate(ctx context.Context, dsn string) (*sql.DB, error) {
	path := strings.TrimPrefix(dsn, "sqlite://")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cant open sqlite database. Err: %w", err)
	}

	// SQLite allows one writer at a time; ':memory:' databases also live in single connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA foreign_keys = ON;`, `PRAGMA busy_timeout = 5000;`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cant configure sqlite database. Err: %w", err)
		}
	}

	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func migrateSQLite(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("error while preparing sqlite driver. Err: %w", err)
	}

	source, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return err
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("error while preparing migrator. Err: %w", err)
	}

	err = migrator.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error while applying migrations. Err: %w", err)
	}

	return nil
}
