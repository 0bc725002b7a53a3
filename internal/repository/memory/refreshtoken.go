package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

type RefreshTokenRepo struct {
	s *Storage
}

func (r *RefreshTokenRepo) Create(ctx context.Context, record models.RefreshRecord) error {
	defer r.s.lock()()

	if _, ok := r.s.data.tokens[record.TokenID]; ok {
		return fmt.Errorf("refresh token %q already exists", record.TokenID)
	}
	r.s.data.tokens[record.TokenID] = record

	return nil
}

func (r *RefreshTokenRepo) FindByTokenID(ctx context.Context, tokenID string) (models.RefreshRecord, error) {
	defer r.s.lock()()

	record, ok := r.s.data.tokens[tokenID]
	switch {
	case !ok:
		return record, apperrors.ErrRefreshTokenNotFound
	case record.Revoked:
		return record, apperrors.ErrRefreshTokenRevoked
	case !r.s.now().Before(record.ExpiresAt):
		return record, apperrors.ErrRefreshTokenExpired
	default:
		return record, nil
	}
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenID string) (models.RefreshRecord, error) {
	defer r.s.lock()()

	record, ok := r.s.data.tokens[tokenID]
	switch {
	case !ok:
		return record, apperrors.ErrRefreshTokenNotFound
	case record.Revoked:
		return record, apperrors.ErrRefreshTokenRevoked
	}

	now := r.s.now().UTC()
	record.Revoked = true
	record.RevokedAt = &now
	r.s.data.tokens[tokenID] = record

	return record, nil
}

func (r *RefreshTokenRepo) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	defer r.s.lock()()

	var count int64
	now := r.s.now().UTC()
	for id, record := range r.s.data.tokens {
		if record.FamilyID != familyID || record.Revoked {
			continue
		}
		record.Revoked = true
		record.RevokedAt = &now
		r.s.data.tokens[id] = record
		count++
	}

	return count, nil
}

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	defer r.s.lock()()

	var count int64
	for id, record := range r.s.data.tokens {
		if record.ExpiresAt.Before(before) {
			delete(r.s.data.tokens, id)
			count++
		}
	}

	return count, nil
}
