package repository

import (
	"context"
	"time"

	"github.com/nkiryanov/authcore/internal/models"
)

// Principal repository interface
type PrincipalRepo interface {
	// Create principal with login credentials
	// If principal with kind and username exists already has to return apperrors.ErrPrincipalAlreadyExists
	CreatePrincipal(ctx context.Context, principal models.Principal, passwordHash string) (models.PrincipalAccount, error)

	// Get principal by kind and id or by kind and username
	// If principal not found must return apperrors.ErrPrincipalNotFound
	GetPrincipalByID(ctx context.Context, kind models.Kind, id string) (models.PrincipalAccount, error)
	GetPrincipalByUsername(ctx context.Context, kind models.Kind, username string) (models.PrincipalAccount, error)
}

// RefreshToken repository interface
// Revoked or expired records must look like missing ones to any caller granting access:
// returned errors wrap apperrors.ErrRefreshTokenNotFound, the finer error is for audit logs only
type RefreshTokenRepo interface {
	// Create record for just issued refresh token
	Create(ctx context.Context, record models.RefreshRecord) error

	// Find record by token id
	// Missing record: apperrors.ErrRefreshTokenNotFound
	// Revoked record: apperrors.ErrRefreshTokenRevoked, the record is returned too
	// Expired record: apperrors.ErrRefreshTokenExpired, the record is returned too
	FindByTokenID(ctx context.Context, tokenID string) (models.RefreshRecord, error)

	// Mark record revoked
	// If the record is already revoked must not overwrite 'revokedAt' and has to return apperrors.ErrRefreshTokenRevoked
	// So only one of concurrent callers revokes the record
	Revoke(ctx context.Context, tokenID string) (models.RefreshRecord, error)

	// Revoke every record of the family, return count of records revoked by this call
	RevokeFamily(ctx context.Context, familyID string) (int64, error)

	// Delete records expired before the moment, return count of deleted records
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Storage interface {
	Principal() PrincipalRepo
	Refresh() RefreshTokenRepo

	// Run fn in transaction; commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
