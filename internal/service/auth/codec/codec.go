package codec

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour

	defaultSigningMethod = "HS256"

	// Audiences keep access and refresh tokens apart even if parsed by the wrong method
	accessAudience  = "access"
	refreshAudience = "refresh"

	// 256 bits of entropy for refresh token id
	refreshTokenIDBytes = 32
)

type accessTokenClaims struct {
	jwt.RegisteredClaims
	Name string      `json:"name"`
	Role string      `json:"role"`
	Kind models.Kind `json:"kind"`
}

type refreshTokenClaims struct {
	jwt.RegisteredClaims
	Kind   models.Kind `json:"kind"`
	Family string      `json:"fam"`
}

// Codec config with sensible defaults
type Config struct {
	// Secrets to sign access and refresh tokens
	// Both required and must differ
	AccessSecret  string
	RefreshSecret string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Clock source. time.Now if not set
	Now func() time.Time
}

// Codec signs and verifies access and refresh tokens. It holds no state besides secrets
type Codec struct {
	accessKey  []byte
	refreshKey []byte
	alg        jwt.SigningMethod
	now        func() time.Time
}

func New(cfg Config) (*Codec, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, apperrors.ErrSecretMissing
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if _, ok := alg.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing method %q", cfg.Alg)
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Codec{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		alg:        alg,
		now:        cfg.Now,
	}, nil
}

// Sign access token for resolved user. Deterministic for the same user and time
func (c *Codec) IssueAccess(user models.AuthUser) (models.IssuedToken, error) {
	if len(c.accessKey) == 0 {
		return models.IssuedToken{}, apperrors.ErrSecretMissing
	}

	now := c.now().Truncate(time.Second)
	expiresAt := now.Add(AccessTokenTTL)

	token := jwt.NewWithClaims(c.alg, accessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{accessAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name: user.Username,
		Role: user.Role,
		Kind: user.Kind,
	})

	value, err := token.SignedString(c.accessKey)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: value, ExpiresAt: expiresAt}, nil
}

// Generate opaque refresh token id and wrap it into signed token
func (c *Codec) IssueRefresh(principalID string, kind models.Kind, familyID string) (models.RefreshPayload, models.IssuedToken, error) {
	var payload models.RefreshPayload
	if len(c.refreshKey) == 0 {
		return payload, models.IssuedToken{}, apperrors.ErrSecretMissing
	}

	b := make([]byte, refreshTokenIDBytes)
	if _, err := rand.Read(b); err != nil {
		return payload, models.IssuedToken{}, fmt.Errorf("error while generate refresh token. Err: %w", err)
	}

	now := c.now().Truncate(time.Second)
	payload = models.RefreshPayload{
		TokenID:     base64.RawURLEncoding.EncodeToString(b),
		FamilyID:    familyID,
		PrincipalID: principalID,
		Kind:        kind,
		IssuedAt:    now,
		ExpiresAt:   now.Add(RefreshTokenTTL),
	}

	token := jwt.NewWithClaims(c.alg, refreshTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        payload.TokenID,
			Subject:   principalID,
			Audience:  jwt.ClaimStrings{refreshAudience},
			IssuedAt:  jwt.NewNumericDate(payload.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(payload.ExpiresAt),
		},
		Kind:   kind,
		Family: familyID,
	})

	value, err := token.SignedString(c.refreshKey)
	if err != nil {
		return payload, models.IssuedToken{}, fmt.Errorf("error while signing refresh token. Err: %w", err)
	}

	return payload, models.IssuedToken{Value: value, ExpiresAt: payload.ExpiresAt}, nil
}

// Verify signature then expiry of access token
func (c *Codec) VerifyAccess(access string) (models.AccessClaims, error) {
	claims := &accessTokenClaims{}
	if err := c.parse(access, claims, c.accessKey, accessAudience); err != nil {
		return models.AccessClaims{}, err
	}

	if claims.Subject == "" || claims.Role == "" || claims.IssuedAt == nil {
		return models.AccessClaims{}, apperrors.NewAuthError(apperrors.KindInvalidSignature, errors.New("access token misses required claims"))
	}

	return accessClaimsFrom(claims), nil
}

// Verify signature then expiry of refresh token
func (c *Codec) VerifyRefresh(refresh string) (models.RefreshPayload, error) {
	claims := &refreshTokenClaims{}
	if err := c.parse(refresh, claims, c.refreshKey, refreshAudience); err != nil {
		return models.RefreshPayload{}, err
	}

	if claims.ID == "" || claims.Subject == "" || claims.IssuedAt == nil {
		return models.RefreshPayload{}, apperrors.NewAuthError(apperrors.KindInvalidSignature, errors.New("refresh token misses required claims"))
	}

	return models.RefreshPayload{
		TokenID:     claims.ID,
		FamilyID:    claims.Family,
		PrincipalID: claims.Subject,
		Kind:        claims.Kind,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

func (c *Codec) parse(value string, claims jwt.Claims, key []byte, audience string) error {
	if len(key) == 0 {
		return apperrors.NewAuthError(apperrors.KindInvalidSignature, apperrors.ErrSecretMissing)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.alg.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	_, err := parser.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenInvalidAudience):
		// signature is checked before claims, so the token is authentic but stale
		return apperrors.NewAuthError(apperrors.KindExpired, err)
	default:
		return apperrors.NewAuthError(apperrors.KindInvalidSignature, err)
	}
}

// DecodeUnsafe reads access claims without verifying signature
// Use it only to estimate expiry on the client side, never to authorize anything
func DecodeUnsafe(token string) (models.AccessClaims, bool) {
	claims := &accessTokenClaims{}

	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil || claims.ExpiresAt == nil {
		return models.AccessClaims{}, false
	}

	return accessClaimsFrom(claims), true
}

func accessClaimsFrom(claims *accessTokenClaims) models.AccessClaims {
	c := models.AccessClaims{
		ID:       claims.Subject,
		Username: claims.Name,
		Role:     claims.Role,
		Kind:     claims.Kind,
	}
	if claims.IssuedAt != nil {
		c.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		c.ExpiresAt = claims.ExpiresAt.Time
	}
	return c
}
