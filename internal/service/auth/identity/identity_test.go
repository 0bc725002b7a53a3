package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

func TestResolve(t *testing.T) {
	t.Run("resolved", func(t *testing.T) {
		tests := []struct {
			name      string
			principal models.Principal
			expected  models.AuthUser
		}{
			{
				name:      "individual with role",
				principal: models.Individual{ID: "u1", Username: "nk", Role: models.RoleYouth},
				expected:  models.AuthUser{ID: "u1", Username: "nk", Role: models.RoleYouth, Kind: models.KindIndividual},
			},
			{
				name:      "municipality implied role",
				principal: models.Municipality{ID: "m1", Username: "town"},
				expected:  models.AuthUser{ID: "m1", Username: "town", Role: models.RoleMunicipalGovernment, Kind: models.KindMunicipality},
			},
			{
				name:      "company implied role",
				principal: models.Company{ID: "c1", Username: "acme"},
				expected:  models.AuthUser{ID: "c1", Username: "acme", Role: models.RoleCompany, Kind: models.KindCompany},
			},
			{
				name:      "company explicit role wins",
				principal: models.Company{ID: "c1", Username: "acme", Role: models.RoleAdmin},
				expected:  models.AuthUser{ID: "c1", Username: "acme", Role: models.RoleAdmin, Kind: models.KindCompany},
			},
			{
				name:      "municipality explicit role wins",
				principal: models.Municipality{ID: "m1", Username: "town", Role: models.RoleAdmin},
				expected:  models.AuthUser{ID: "m1", Username: "town", Role: models.RoleAdmin, Kind: models.KindMunicipality},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := Resolve(tt.principal)

				require.NoError(t, err)
				require.Equal(t, tt.expected, got)
			})
		}
	})

	t.Run("implied role is stable", func(t *testing.T) {
		for _, id := range []string{"a", "b", "c"} {
			m, err := Resolve(models.Municipality{ID: id})
			require.NoError(t, err)
			require.Equal(t, models.RoleMunicipalGovernment, m.Role)

			c, err := Resolve(models.Company{ID: id})
			require.NoError(t, err)
			require.Equal(t, models.RoleCompany, c.Role)
		}
	})

	t.Run("role required", func(t *testing.T) {
		tests := []struct {
			name      string
			principal models.Principal
		}{
			{"individual without role", models.Individual{ID: "u1", Username: "nk"}},
			{"nil principal", nil},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Resolve(tt.principal)

				require.ErrorIs(t, err, apperrors.ErrRoleRequired)
			})
		}
	})
}
