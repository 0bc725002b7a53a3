package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

type PrincipalRepo struct {
	DB DBTX
}

const createPrincipal = `-- name: CreatePrincipal
INSERT INTO principals (id, kind, username, role, password_hash, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`

func (r *PrincipalRepo) CreatePrincipal(ctx context.Context, p models.Principal, passwordHash string) (models.PrincipalAccount, error) {
	id := p.PrincipalID()
	if id == "" {
		id = uuid.NewString()
	}

	account := models.PrincipalAccount{
		Principal:    models.WithID(p, id),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := r.DB.ExecContext(ctx, createPrincipal,
		id, string(p.PrincipalKind()), p.PrincipalUsername(), p.ExplicitRole(), passwordHash, account.CreatedAt,
	)
	if err != nil {
		// modernc sqlite reports constraint violations in message only
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return models.PrincipalAccount{}, apperrors.ErrPrincipalAlreadyExists
		}
		return models.PrincipalAccount{}, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

const getPrincipalByID = `-- name: getPrincipalByID
SELECT id, kind, username, role, password_hash, created_at
FROM principals
WHERE kind = ? AND id = ?
`

func (r *PrincipalRepo) GetPrincipalByID(ctx context.Context, kind models.Kind, id string) (models.PrincipalAccount, error) {
	return scanPrincipal(r.DB.QueryRowContext(ctx, getPrincipalByID, string(kind), id))
}

const getPrincipalByUsername = `-- name: getPrincipalByUsername
SELECT id, kind, username, role, password_hash, created_at
FROM principals
WHERE kind = ? AND username = ?
`

func (r *PrincipalRepo) GetPrincipalByUsername(ctx context.Context, kind models.Kind, username string) (models.PrincipalAccount, error) {
	return scanPrincipal(r.DB.QueryRowContext(ctx, getPrincipalByUsername, string(kind), username))
}

func scanPrincipal(row *sql.Row) (models.PrincipalAccount, error) {
	var (
		a                        models.PrincipalAccount
		id, kind, username, role string
	)

	err := row.Scan(&id, &kind, &username, &role, &a.PasswordHash, &a.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return a, apperrors.ErrPrincipalNotFound
	case err != nil:
		return a, fmt.Errorf("db error: %w", err)
	}

	a.Principal, err = models.NewPrincipal(models.Kind(kind), id, username, role)
	return a, err
}
