// Package identity maps every principal kind onto a single AuthUser claim set.
//
// An explicit role always wins. Without one, municipalities and companies get the role
// implied by their kind, and individuals cannot be resolved at all.
package identity

import (
	"fmt"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

func Resolve(p models.Principal) (models.AuthUser, error) {
	switch p := p.(type) {
	case models.Individual:
		return resolveIndividual(p)
	case models.Municipality:
		return resolveMunicipality(p), nil
	case models.Company:
		return resolveCompany(p), nil
	default:
		return models.AuthUser{}, apperrors.NewAuthError(apperrors.KindRoleRequired, fmt.Errorf("unsupported principal %T", p))
	}
}

func resolveIndividual(p models.Individual) (models.AuthUser, error) {
	if p.Role == "" {
		return models.AuthUser{}, apperrors.NewAuthError(apperrors.KindRoleRequired, fmt.Errorf("individual %q has no role", p.ID))
	}
	return user(p, p.Username, p.Role), nil
}

func resolveMunicipality(p models.Municipality) models.AuthUser {
	return user(p, p.Username, roleOr(p.Role, models.RoleMunicipalGovernment))
}

func resolveCompany(p models.Company) models.AuthUser {
	return user(p, p.Username, roleOr(p.Role, models.RoleCompany))
}

func roleOr(explicit string, implied string) string {
	if explicit != "" {
		return explicit
	}
	return implied
}

func user(p models.Principal, username string, role string) models.AuthUser {
	return models.AuthUser{
		ID:       p.PrincipalID(),
		Username: username,
		Role:     role,
		Kind:     p.PrincipalKind(),
	}
}
