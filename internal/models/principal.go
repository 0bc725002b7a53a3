package models

import (
	"fmt"
	"time"

	"github.com/nkiryanov/authcore/internal/apperrors"
)

// Kind of entity that may authenticate
type Kind string

const (
	KindIndividual   Kind = "individual"
	KindMunicipality Kind = "municipality"
	KindCompany      Kind = "company"
)

const (
	RoleYouth               = "YOUTH"
	RoleAdmin               = "ADMIN"
	RoleMunicipalGovernment = "MUNICIPAL_GOVERNMENT"
	RoleCompany             = "COMPANY"
)

func ParseKind(value string) (Kind, error) {
	switch k := Kind(value); k {
	case KindIndividual, KindMunicipality, KindCompany:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnknownKind, value)
	}
}

// Principal is a closed set of variants: Individual, Municipality, Company
type Principal interface {
	PrincipalID() string
	PrincipalKind() Kind
	PrincipalUsername() string

	// Role assigned explicitly, empty if none
	ExplicitRole() string

	isPrincipal()
}

type Individual struct {
	ID       string
	Username string
	Role     string // explicit role, required to mint tokens
}

type Municipality struct {
	ID       string
	Username string
	Role     string // optional, RoleMunicipalGovernment implied
}

type Company struct {
	ID       string
	Username string
	Role     string // optional, RoleCompany implied
}

func (p Individual) PrincipalID() string   { return p.ID }
func (p Municipality) PrincipalID() string { return p.ID }
func (p Company) PrincipalID() string      { return p.ID }

func (p Individual) PrincipalUsername() string   { return p.Username }
func (p Municipality) PrincipalUsername() string { return p.Username }
func (p Company) PrincipalUsername() string      { return p.Username }

func (p Individual) ExplicitRole() string   { return p.Role }
func (p Municipality) ExplicitRole() string { return p.Role }
func (p Company) ExplicitRole() string      { return p.Role }

func (Individual) PrincipalKind() Kind   { return KindIndividual }
func (Municipality) PrincipalKind() Kind { return KindMunicipality }
func (Company) PrincipalKind() Kind      { return KindCompany }

func (Individual) isPrincipal()   {}
func (Municipality) isPrincipal() {}
func (Company) isPrincipal()      {}

// Same principal with another id
func WithID(p Principal, id string) Principal {
	switch p := p.(type) {
	case Individual:
		p.ID = id
		return p
	case Municipality:
		p.ID = id
		return p
	case Company:
		p.ID = id
		return p
	default:
		return p
	}
}

// Build principal variant from its stored representation
func NewPrincipal(kind Kind, id string, username string, role string) (Principal, error) {
	switch kind {
	case KindIndividual:
		return Individual{ID: id, Username: username, Role: role}, nil
	case KindMunicipality:
		return Municipality{ID: id, Username: username, Role: role}, nil
	case KindCompany:
		return Company{ID: id, Username: username, Role: role}, nil
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownKind, kind)
	}
}

// Normalized identity every principal kind resolves to
type AuthUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Kind     Kind   `json:"type"`
}

// Stored login identity
type PrincipalAccount struct {
	Principal    Principal
	PasswordHash string
	CreatedAt    time.Time
}
