package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthError(t *testing.T) {
	t.Run("match by kind", func(t *testing.T) {
		err := fmt.Errorf("verify access: %w", NewAuthError(KindExpired, errors.New("token is expired")))

		require.ErrorIs(t, err, ErrExpired)
		require.NotErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("kind of", func(t *testing.T) {
		kind, ok := KindOf(fmt.Errorf("wrapped: %w", NewAuthError(KindStoreUnavailable, nil)))

		require.True(t, ok)
		require.Equal(t, KindStoreUnavailable, kind)

		_, ok = KindOf(errors.New("plain"))
		require.False(t, ok)
	})

	t.Run("unwrap keeps cause", func(t *testing.T) {
		err := NewAuthError(KindStoreUnavailable, ErrRefreshTokenNotFound)

		require.ErrorIs(t, err, ErrRefreshTokenNotFound)
		require.Equal(t, "STORE_UNAVAILABLE: refresh token not found", err.Error())
	})

	t.Run("refresh errors look like not found", func(t *testing.T) {
		for _, err := range []error{ErrRefreshTokenRevoked, ErrRefreshTokenExpired, ErrRefreshTokenReused} {
			require.ErrorIs(t, err, ErrRefreshTokenNotFound)
		}
		require.NotErrorIs(t, ErrRefreshTokenExpired, ErrRefreshTokenRevoked)
	})
}
