package models

import (
	"time"
)

// Decoded access token payload
type AccessClaims struct {
	ID        string
	Username  string
	Role      string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (c AccessClaims) User() AuthUser {
	return AuthUser{ID: c.ID, Username: c.Username, Role: c.Role, Kind: c.Kind}
}

// Decoded refresh token payload
type RefreshPayload struct {
	TokenID     string
	FamilyID    string
	PrincipalID string
	Kind        Kind
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Server side record of an issued refresh token
type RefreshRecord struct {
	TokenID     string
	FamilyID    string // shared by all records rotated from one login
	PrincipalID string
	Kind        Kind
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Revoked     bool
	RevokedAt   *time.Time // nil if token not revoked
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued on login or refresh
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
