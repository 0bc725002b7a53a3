package principal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func Test_BcryptHasher(t *testing.T) {
	t.Parallel()

	h := BcryptHasher{Cost: bcrypt.MinCost}

	t.Run("hash password", func(t *testing.T) {
		got, err := h.Hash("password")
		require.NoError(t, err)

		require.Len(t, got, 60, "bcrypt length is 60 letters as far as i know")
		require.Equal(t, "$2a$", got[:4], "bcrypt has should have prefix '$2a$'")
	})

	t.Run("default cost", func(t *testing.T) {
		got, err := DefaultHasher.Hash("password")
		require.NoError(t, err)

		cost, err := bcrypt.Cost([]byte(got))
		require.NoError(t, err)
		require.Equal(t, bcrypt.DefaultCost, cost)
	})

	t.Run("compare password ok", func(t *testing.T) {
		hash, err := h.Hash("password")
		require.NoError(t, err)

		err = h.Compare(hash, "password")

		require.NoError(t, err)
	})

	t.Run("long password is not truncated", func(t *testing.T) {
		long := strings.Repeat("a", 100)
		hash, err := h.Hash(long + "1")
		require.NoError(t, err)

		err = h.Compare(hash, long+"2")

		require.Error(t, err, "passwords differ after 72 bytes")
	})

	t.Run("fail compare if wrong password", func(t *testing.T) {
		hash, err := h.Hash("password")
		require.NoError(t, err)

		err = h.Compare(hash, "wrong")

		require.Error(t, err)
	})
}
