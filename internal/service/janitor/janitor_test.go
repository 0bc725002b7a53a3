package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository/memory"
)

func Test_Janitor(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	record := func(id string, expiresAt time.Time) models.RefreshRecord {
		return models.RefreshRecord{
			TokenID:     id,
			FamilyID:    "family",
			PrincipalID: "c1",
			Kind:        models.KindCompany,
			IssuedAt:    expiresAt.Add(-7 * 24 * time.Hour),
			ExpiresAt:   expiresAt,
		}
	}

	t.Run("sweep keeps recently expired", func(t *testing.T) {
		storage := memory.NewStorage(memory.WithClock(func() time.Time { return now }))
		for _, r := range []models.RefreshRecord{
			record("live", now.Add(time.Hour)),
			record("just-expired", now.Add(-time.Hour)),
			record("long-expired", now.Add(-48*time.Hour)),
		} {
			require.NoError(t, storage.Refresh().Create(t.Context(), r))
		}
		j := New(storage, WithClock(func() time.Time { return now }), WithRetention(24*time.Hour))

		count, err := j.Sweep(t.Context())

		require.NoError(t, err)
		require.Equal(t, int64(1), count)
		_, err = storage.Refresh().FindByTokenID(t.Context(), "just-expired")
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenExpired, "still kept for audit")
		_, err = storage.Refresh().FindByTokenID(t.Context(), "live")
		require.NoError(t, err)
	})

	t.Run("run sweeps periodically and stops", func(t *testing.T) {
		storage := memory.NewStorage()
		require.NoError(t, storage.Refresh().Create(t.Context(), record("old", time.Now().Add(-48*time.Hour))))
		ctx, cancel := context.WithCancel(t.Context())
		j := New(storage, WithInterval(10*time.Millisecond))

		stopped := j.Run(ctx)

		require.Eventually(t, func() bool {
			_, err := storage.Refresh().FindByTokenID(t.Context(), "old")
			return errors.Is(err, apperrors.ErrRefreshTokenNotFound) && !errors.Is(err, apperrors.ErrRefreshTokenExpired)
		}, time.Second, 10*time.Millisecond)

		cancel()
		select {
		case <-stopped:
		case <-time.After(time.Second):
			require.Fail(t, "janitor has to stop on context cancel")
		}
	})
}
