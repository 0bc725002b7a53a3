// Package sqlite stores principals and refresh records in a single sqlite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nkiryanov/authcore/internal/repository"
)

// Either *sql.DB or *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Storage struct {
	db DBTX
}

func NewStorage(db DBTX) repository.Storage {
	return &Storage{db: db}
}

func (s *Storage) Principal() repository.PrincipalRepo {
	return &PrincipalRepo{DB: s.db}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{DB: s.db}
}

// Run fn in transaction
// Nested calls join the outer transaction
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) (err error) {
	db, ok := s.db.(*sql.DB)
	if !ok {
		return fn(s)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	defer func() {
		switch err {
		case nil:
			err = tx.Commit()
		default:
			_ = tx.Rollback()
		}
	}()

	err = fn(NewStorage(tx))

	return err
}
