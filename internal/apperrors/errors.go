package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrPrincipalAlreadyExists = errors.New("principal already exists")
	ErrPrincipalNotFound      = errors.New("principal not found")
	ErrUnknownKind            = errors.New("unknown principal kind")

	// Revoked and expired records are reported as "not found" to callers.
	// The finer errors exist for audit logging only.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenRevoked  = fmt.Errorf("%w: revoked", ErrRefreshTokenNotFound)
	ErrRefreshTokenExpired  = fmt.Errorf("%w: expired", ErrRefreshTokenNotFound)
	ErrRefreshTokenReused   = fmt.Errorf("%w: reused", ErrRefreshTokenNotFound)

	ErrSecretMissing = errors.New("signing secret is missing")
)

// Kind classifies authentication failures
type Kind string

const (
	KindInvalidSignature Kind = "INVALID_SIGNATURE"
	KindExpired          Kind = "EXPIRED"
	KindRoleRequired     Kind = "ROLE_REQUIRED"
	KindStoreUnavailable Kind = "STORE_UNAVAILABLE"
	KindNetworkFailure   Kind = "NETWORK_FAILURE"
)

// Sentinels to match AuthError kinds with errors.Is
var (
	ErrInvalidSignature = &AuthError{Kind: KindInvalidSignature}
	ErrExpired          = &AuthError{Kind: KindExpired}
	ErrRoleRequired     = &AuthError{Kind: KindRoleRequired}
	ErrStoreUnavailable = &AuthError{Kind: KindStoreUnavailable}
	ErrNetworkFailure   = &AuthError{Kind: KindNetworkFailure}
)

// AuthError is the typed failure returned across the auth core boundary
type AuthError struct {
	Kind Kind
	Err  error
}

func NewAuthError(kind Kind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches any AuthError with the same kind, so errors.Is(err, ErrExpired) works
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first AuthError in the chain
func KindOf(err error) (Kind, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return "", false
}
