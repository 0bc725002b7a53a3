package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const createToken = `-- name: Create Refresh Token
INSERT INTO refresh_tokens (token_id, family_id, principal_id, kind, issued_at, expires_at, revoked_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

func (r *RefreshTokenRepo) Create(ctx context.Context, t models.RefreshRecord) error {
	var revokedAt sql.NullTime
	if t.RevokedAt != nil {
		revokedAt = sql.NullTime{Time: t.RevokedAt.UTC(), Valid: true}
	}

	_, err := r.DB.ExecContext(ctx, createToken,
		t.TokenID, t.FamilyID, t.PrincipalID, string(t.Kind), t.IssuedAt.UTC(), t.ExpiresAt.UTC(), revokedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const findToken = `-- name: Find token by id
SELECT token_id, family_id, principal_id, kind, issued_at, expires_at, revoked_at
FROM refresh_tokens
WHERE token_id = ?
`

// Find token
// Revoked or expired token is returned with error that looks like 'not found'
func (r *RefreshTokenRepo) FindByTokenID(ctx context.Context, tokenID string) (models.RefreshRecord, error) {
	token, err := r.find(ctx, tokenID)

	switch {
	case err != nil:
		return token, err
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
SET revoked_at = ?
WHERE token_id = ? AND revoked_at IS NULL
`

// Mark token revoked
// Only the caller whose update touched the row wins, others get ErrRefreshTokenRevoked
func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenID string) (models.RefreshRecord, error) {
	res, err := r.DB.ExecContext(ctx, revokeToken, time.Now().UTC(), tokenID)
	if err != nil {
		return models.RefreshRecord{}, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.RefreshRecord{}, fmt.Errorf("db error: %w", err)
	}

	token, err := r.find(ctx, tokenID)
	switch {
	case err != nil:
		return token, err
	case affected == 0:
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	default:
		return token, nil
	}
}

const revokeFamily = `-- name: Revoke all family tokens
UPDATE refresh_tokens
SET revoked_at = ?
WHERE family_id = ? AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, revokeFamily, time.Now().UTC(), familyID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

const deleteExpired = `-- name: Delete expired tokens
DELETE FROM refresh_tokens
WHERE expires_at < ?
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, deleteExpired, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

func (r *RefreshTokenRepo) find(ctx context.Context, tokenID string) (models.RefreshRecord, error) {
	var (
		t         models.RefreshRecord
		kind      string
		revokedAt sql.NullTime
	)

	row := r.DB.QueryRowContext(ctx, findToken, tokenID)
	err := row.Scan(&t.TokenID, &t.FamilyID, &t.PrincipalID, &kind, &t.IssuedAt, &t.ExpiresAt, &revokedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return t, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	case err != nil:
		return t, fmt.Errorf("db error: %w", err)
	}

	t.Kind = models.Kind(kind)
	if revokedAt.Valid {
		t.Revoked = true
		t.RevokedAt = &revokedAt.Time
	}
	return t, nil
}
