package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const createToken = `-- name: Create Refresh Token
INSERT INTO refresh_tokens (token_id, family_id, principal_id, kind, issued_at, expires_at, revoked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (r *RefreshTokenRepo) Create(ctx context.Context, t models.RefreshRecord) error {
	_, err := r.DB.Exec(ctx, createToken, t.TokenID, t.FamilyID, t.PrincipalID, t.Kind, t.IssuedAt, t.ExpiresAt, t.RevokedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("refresh token already exists: %w", err)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const findToken = `-- name: Find token by id
SELECT token_id, family_id, principal_id, kind, issued_at, expires_at, revoked_at
FROM refresh_tokens
WHERE token_id = $1
`

// Find token
// Revoked or expired token is returned with error that looks like 'not found'
func (r *RefreshTokenRepo) FindByTokenID(ctx context.Context, tokenID string) (models.RefreshRecord, error) {
	rows, _ := r.DB.Query(ctx, findToken, tokenID)
	token, err := pgx.CollectOneRow(rows, rowToRefreshRecord)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	case err != nil:
		return token, fmt.Errorf("db error: %w", err)
	case token.Revoked:
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	case !time.Now().Before(token.ExpiresAt):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExpired)
	default:
		return token, nil
	}
}

const revokeToken = `-- name: Revoke token if it not revoked
UPDATE refresh_tokens
SET revoked_at = COALESCE(revoked_at, $2)
WHERE token_id = $1
RETURNING token_id, family_id, principal_id, kind, issued_at, expires_at, revoked_at
`

// Mark token revoked
// Should not rewrite already revoked tokens, return ErrRefreshTokenRevoked for them
func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenID string) (models.RefreshRecord, error) {
	now := time.Now().UTC().Truncate(time.Microsecond) // postgres keeps microseconds only
	rows, _ := r.DB.Query(ctx, revokeToken, tokenID, now)
	token, err := pgx.CollectOneRow(rows, rowToRefreshRecord)

	switch {
	case err == nil && token.RevokedAt.Equal(now):
		return token, nil
	case err == nil: // revokedAt != now == token is revoked before
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeFamily = `-- name: Revoke all family tokens
UPDATE refresh_tokens
SET revoked_at = $2
WHERE family_id = $1 AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeFamily, familyID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteExpired = `-- name: Delete expired tokens
DELETE FROM refresh_tokens
WHERE expires_at < $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpired, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToRefreshRecord(row pgx.CollectableRow) (models.RefreshRecord, error) {
	var t models.RefreshRecord
	err := row.Scan(&t.TokenID, &t.FamilyID, &t.PrincipalID, &t.Kind, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt)
	t.Revoked = t.RevokedAt != nil
	return t, err
}
