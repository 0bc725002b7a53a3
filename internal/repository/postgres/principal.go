package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

type PrincipalRepo struct {
	DB DBTX
}

const createPrincipal = `-- name: CreatePrincipal
INSERT INTO principals (id, kind, username, role, password_hash)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, kind, username, role, password_hash, created_at
`

func (r *PrincipalRepo) CreatePrincipal(ctx context.Context, p models.Principal, passwordHash string) (models.PrincipalAccount, error) {
	id := p.PrincipalID()
	if id == "" {
		id = uuid.NewString()
	}

	rows, _ := r.DB.Query(ctx, createPrincipal, id, p.PrincipalKind(), p.PrincipalUsername(), p.ExplicitRole(), passwordHash)
	account, err := pgx.CollectOneRow(rows, rowToPrincipal)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return account, apperrors.ErrPrincipalAlreadyExists
		}

		return account, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

const getPrincipalByID = `-- name: getPrincipalByID
SELECT id, kind, username, role, password_hash, created_at
FROM principals
WHERE kind = $1 AND id = $2
`

func (r *PrincipalRepo) GetPrincipalByID(ctx context.Context, kind models.Kind, id string) (models.PrincipalAccount, error) {
	rows, _ := r.DB.Query(ctx, getPrincipalByID, kind, id)
	return collectPrincipal(rows)
}

const getPrincipalByUsername = `-- name: getPrincipalByUsername
SELECT id, kind, username, role, password_hash, created_at
FROM principals
WHERE kind = $1 AND username = $2
`

func (r *PrincipalRepo) GetPrincipalByUsername(ctx context.Context, kind models.Kind, username string) (models.PrincipalAccount, error) {
	rows, _ := r.DB.Query(ctx, getPrincipalByUsername, kind, username)
	return collectPrincipal(rows)
}

func collectPrincipal(rows pgx.Rows) (models.PrincipalAccount, error) {
	account, err := pgx.CollectOneRow(rows, rowToPrincipal)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrPrincipalNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func rowToPrincipal(row pgx.CollectableRow) (models.PrincipalAccount, error) {
	var (
		a                  models.PrincipalAccount
		id, username, role string
		kind               models.Kind
	)

	err := row.Scan(&id, &kind, &username, &role, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		return a, err
	}

	a.Principal, err = models.NewPrincipal(kind, id, username, role)
	return a, err
}
