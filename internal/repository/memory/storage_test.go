package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

func Test_RefreshTokenRepo(t *testing.T) {
	now := mustParseTime("2024-01-01 19:00:01Z")
	record := models.RefreshRecord{
		TokenID:     "token-id",
		FamilyID:    "family-id",
		PrincipalID: "u1",
		Kind:        models.KindIndividual,
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
	}

	newRepo := func() (*Storage, repository.RefreshTokenRepo) {
		s := NewStorage(WithClock(func() time.Time { return now }))
		return s, s.Refresh()
	}

	t.Run("create and find", func(t *testing.T) {
		_, repo := newRepo()
		require.NoError(t, repo.Create(t.Context(), record))

		got, err := repo.FindByTokenID(t.Context(), record.TokenID)

		require.NoError(t, err)
		require.Equal(t, record, got)
	})

	t.Run("create duplicate fails", func(t *testing.T) {
		_, repo := newRepo()
		require.NoError(t, repo.Create(t.Context(), record))

		require.Error(t, repo.Create(t.Context(), record))
	})

	t.Run("find missing", func(t *testing.T) {
		_, repo := newRepo()

		_, err := repo.FindByTokenID(t.Context(), "missing")

		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
	})

	t.Run("find expired looks like not found", func(t *testing.T) {
		_, repo := newRepo()
		expired := record
		expired.ExpiresAt = now
		require.NoError(t, repo.Create(t.Context(), expired))

		got, err := repo.FindByTokenID(t.Context(), record.TokenID)

		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenExpired)
		require.Equal(t, expired.TokenID, got.TokenID, "record returned for audit")
	})

	t.Run("revoke", func(t *testing.T) {
		_, repo := newRepo()
		require.NoError(t, repo.Create(t.Context(), record))

		revoked, err := repo.Revoke(t.Context(), record.TokenID)
		require.NoError(t, err)
		require.True(t, revoked.Revoked)
		require.NotNil(t, revoked.RevokedAt)
		assert.True(t, now.Equal(*revoked.RevokedAt))

		_, err = repo.FindByTokenID(t.Context(), record.TokenID)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
	})

	t.Run("revoke twice", func(t *testing.T) {
		_, repo := newRepo()
		require.NoError(t, repo.Create(t.Context(), record))

		first, err := repo.Revoke(t.Context(), record.TokenID)
		require.NoError(t, err)

		second, err := repo.Revoke(t.Context(), record.TokenID)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
		require.Equal(t, first.RevokedAt, second.RevokedAt, "revokedAt must not be overwritten")
	})

	t.Run("revoke missing", func(t *testing.T) {
		_, repo := newRepo()

		_, err := repo.Revoke(t.Context(), "missing")

		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		require.NotErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
	})

	t.Run("revoke family", func(t *testing.T) {
		_, repo := newRepo()
		sibling := record
		sibling.TokenID = "sibling"
		stranger := record
		stranger.TokenID = "stranger"
		stranger.FamilyID = "other-family"
		for _, r := range []models.RefreshRecord{record, sibling, stranger} {
			require.NoError(t, repo.Create(t.Context(), r))
		}
		_, err := repo.Revoke(t.Context(), record.TokenID)
		require.NoError(t, err)

		count, err := repo.RevokeFamily(t.Context(), record.FamilyID)

		require.NoError(t, err)
		require.Equal(t, int64(1), count, "only not revoked records are counted")
		_, err = repo.FindByTokenID(t.Context(), sibling.TokenID)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
		_, err = repo.FindByTokenID(t.Context(), stranger.TokenID)
		require.NoError(t, err, "other families are untouched")
	})

	t.Run("delete expired", func(t *testing.T) {
		_, repo := newRepo()
		old := record
		old.TokenID = "old"
		old.ExpiresAt = now.Add(-2 * time.Hour)
		require.NoError(t, repo.Create(t.Context(), record))
		require.NoError(t, repo.Create(t.Context(), old))

		count, err := repo.DeleteExpired(t.Context(), now.Add(-time.Hour))

		require.NoError(t, err)
		require.Equal(t, int64(1), count)
		_, err = repo.FindByTokenID(t.Context(), old.TokenID)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		require.NotErrorIs(t, err, apperrors.ErrRefreshTokenExpired, "record has to be gone")
		_, err = repo.FindByTokenID(t.Context(), record.TokenID)
		require.NoError(t, err)
	})

	t.Run("rollback on error", func(t *testing.T) {
		s, repo := newRepo()

		err := s.InTx(t.Context(), func(tx repository.Storage) error {
			require.NoError(t, tx.Refresh().Create(t.Context(), record))
			return errors.New("rollback please")
		})

		require.Error(t, err)
		_, err = repo.FindByTokenID(t.Context(), record.TokenID)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "record must be rolled back")
	})

	t.Run("commit on success", func(t *testing.T) {
		s, repo := newRepo()

		err := s.InTx(t.Context(), func(tx repository.Storage) error {
			return tx.Refresh().Create(t.Context(), record)
		})

		require.NoError(t, err)
		_, err = repo.FindByTokenID(t.Context(), record.TokenID)
		require.NoError(t, err)
	})
}

func Test_PrincipalRepo(t *testing.T) {
	newRepo := func() repository.PrincipalRepo {
		return NewStorage().Principal()
	}

	t.Run("create generates id", func(t *testing.T) {
		repo := newRepo()

		account, err := repo.CreatePrincipal(t.Context(), models.Company{Username: "acme"}, "hash")

		require.NoError(t, err)
		require.NotEmpty(t, account.Principal.PrincipalID())
		require.Equal(t, "acme", account.Principal.PrincipalUsername())
		require.Equal(t, "hash", account.PasswordHash)
	})

	t.Run("get by id and username", func(t *testing.T) {
		repo := newRepo()
		created, err := repo.CreatePrincipal(t.Context(), models.Individual{ID: "u1", Username: "nk", Role: models.RoleYouth}, "hash")
		require.NoError(t, err)

		byID, err := repo.GetPrincipalByID(t.Context(), models.KindIndividual, "u1")
		require.NoError(t, err)
		require.Equal(t, created, byID)

		byUsername, err := repo.GetPrincipalByUsername(t.Context(), models.KindIndividual, "nk")
		require.NoError(t, err)
		require.Equal(t, created, byUsername)
	})

	t.Run("same username different kind", func(t *testing.T) {
		repo := newRepo()

		_, err := repo.CreatePrincipal(t.Context(), models.Company{Username: "acme"}, "hash")
		require.NoError(t, err)
		_, err = repo.CreatePrincipal(t.Context(), models.Municipality{Username: "acme"}, "hash")
		require.NoError(t, err)

		_, err = repo.GetPrincipalByUsername(t.Context(), models.KindIndividual, "acme")
		require.ErrorIs(t, err, apperrors.ErrPrincipalNotFound)
	})

	t.Run("duplicate username", func(t *testing.T) {
		repo := newRepo()
		_, err := repo.CreatePrincipal(t.Context(), models.Company{Username: "acme"}, "hash")
		require.NoError(t, err)

		_, err = repo.CreatePrincipal(t.Context(), models.Company{Username: "acme"}, "hash")

		require.ErrorIs(t, err, apperrors.ErrPrincipalAlreadyExists)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := newRepo().GetPrincipalByID(t.Context(), models.KindCompany, "missing")

		require.ErrorIs(t, err, apperrors.ErrPrincipalNotFound)
	})
}
