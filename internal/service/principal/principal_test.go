package principal

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository/memory"
)

func TestPrincipal(t *testing.T) {
	t.Parallel()

	newService := func(t *testing.T) *Service {
		s, err := NewService(BcryptHasher{Cost: bcrypt.MinCost}, memory.NewStorage())
		require.NoError(t, err)
		return s
	}

	t.Run("default hasher", func(t *testing.T) {
		s, err := NewService(nil, memory.NewStorage())

		require.NoError(t, err)
		require.Equal(t, DefaultHasher, s.hasher, "default hasher should be set to BcryptHasher")
	})

	t.Run("Register", func(t *testing.T) {
		t.Run("register ok", func(t *testing.T) {
			s := newService(t)

			p, err := s.Register(t.Context(), models.Individual{Username: "nk", Role: models.RoleYouth}, "password123")

			require.NoError(t, err, "registering new principal should be ok")
			require.NotEmpty(t, p.PrincipalID(), "principal ID should not be empty")
			require.Equal(t, "nk", p.PrincipalUsername())

			account, err := s.storage.Principal().GetPrincipalByID(t.Context(), models.KindIndividual, p.PrincipalID())
			require.NoError(t, err)
			require.NotEqual(t, "password123", account.PasswordHash, "password should be hashed")
		})

		t.Run("empty password fail", func(t *testing.T) {
			s := newService(t)

			_, err := s.Register(t.Context(), models.Company{Username: "acme"}, "")

			require.Error(t, err, "registering with empty password should fail")
		})

		t.Run("duplicate fail", func(t *testing.T) {
			s := newService(t)
			_, err := s.Register(t.Context(), models.Company{Username: "acme"}, "password123")
			require.NoError(t, err, "first registration should succeed")

			_, err = s.Register(t.Context(), models.Company{Username: "acme"}, "different_password")

			require.ErrorIs(t, err, apperrors.ErrPrincipalAlreadyExists)
		})
	})

	t.Run("Authenticate", func(t *testing.T) {
		t.Run("ok", func(t *testing.T) {
			s := newService(t)
			registered, err := s.Register(t.Context(), models.Municipality{Username: "springfield"}, "password123")
			require.NoError(t, err)

			p, err := s.Authenticate(t.Context(), models.KindMunicipality, "springfield", "password123")

			require.NoError(t, err, "authenticate with correct credentials should succeed")
			require.Equal(t, registered, p)
		})

		tests := []struct {
			name     string
			kind     models.Kind
			username string
			password string
		}{
			{"wrong password", models.KindMunicipality, "springfield", "wrong-password"},
			{"not existed principal", models.KindMunicipality, "shelbyville", "password123"},
			{"same username other kind", models.KindCompany, "springfield", "password123"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				s := newService(t)
				_, err := s.Register(t.Context(), models.Municipality{Username: "springfield"}, "password123")
				require.NoError(t, err)

				_, err = s.Authenticate(t.Context(), tt.kind, tt.username, tt.password)

				require.ErrorIs(t, err, apperrors.ErrPrincipalNotFound)
			})
		}
	})

	t.Run("GetPrincipal", func(t *testing.T) {
		s := newService(t)
		registered, err := s.Register(t.Context(), models.Company{Username: "acme"}, "password123")
		require.NoError(t, err)

		p, err := s.GetPrincipal(t.Context(), models.KindCompany, registered.PrincipalID())
		require.NoError(t, err)
		require.Equal(t, registered, p)

		_, err = s.GetPrincipal(t.Context(), models.KindCompany, "absent")
		require.ErrorIs(t, err, apperrors.ErrPrincipalNotFound)
	})
}
