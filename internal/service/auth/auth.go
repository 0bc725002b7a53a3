package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/metrics"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository"
	"github.com/nkiryanov/authcore/internal/service/auth/codec"
	"github.com/nkiryanov/authcore/internal/service/auth/identity"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "refreshtoken"
)

// Auth service config with sensible defaults
type Config struct {
	// Header and scheme to pass access token: 'Authorization: Bearer <token>'
	AccessHeaderName string
	AccessAuthScheme string

	// Cookie to keep refresh token in
	RefreshCookieName string

	// Send refresh cookie over https only
	CookieSecure bool
}

type Option func(*Service)

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Clock used for cookie lifetimes and family ids
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service issues, rotates and revokes token pairs
type Service struct {
	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string
	cookieSecure      bool

	codec    *codec.Codec
	storage  repository.Storage
	families *familyIDs

	logger  logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(cfg Config, c *codec.Codec, storage repository.Storage, opts ...Option) (*Service, error) {
	if c == nil || storage == nil {
		return nil, errors.New("codec and storage must not be nil")
	}

	setDefault := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefault(&cfg.AccessHeaderName, defaultAccessHeaderName)
	setDefault(&cfg.AccessAuthScheme, defaultAccessAuthScheme)
	setDefault(&cfg.RefreshCookieName, defaultRefreshCookieName)

	s := &Service{
		accessHeaderName:  cfg.AccessHeaderName,
		accessAuthScheme:  cfg.AccessAuthScheme,
		refreshCookieName: cfg.RefreshCookieName,
		cookieSecure:      cfg.CookieSecure,
		codec:             c,
		storage:           storage,
		logger:            logger.NewNoOpLogger(),
		now:               time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.families = newFamilyIDs(s.now)
	s.logger = s.logger.WithGroup("auth")

	return s, nil
}

// Login resolves principal and issues token pair for a new token family
// Nothing is returned unless the refresh record is stored
func (s *Service) Login(ctx context.Context, principal models.Principal) (models.TokenPair, error) {
	user, err := identity.Resolve(principal)
	if err != nil {
		return models.TokenPair{}, err
	}

	var pair models.TokenPair
	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		pair, err = s.issue(ctx, tx, user, s.families.New())
		return err
	})
	if err != nil {
		if _, ok := apperrors.KindOf(err); !ok {
			err = apperrors.NewAuthError(apperrors.KindStoreUnavailable, err)
		}
		s.logger.Error("login failed", "principal", user.ID, "kind", user.Kind, "error", err)
		return models.TokenPair{}, err
	}

	s.metrics.PairIssued(metrics.ReasonLogin, user.Kind)
	s.logger.Info("token pair issued", "principal", user.ID, "kind", user.Kind, "reason", metrics.ReasonLogin)

	return pair, nil
}

// Logout revokes the refresh token record
// It never fails sign out: bad, expired or unknown tokens are ignored, store errors are logged only
func (s *Service) Logout(ctx context.Context, refresh string) error {
	s.metrics.LoggedOut()

	payload, err := s.codec.VerifyRefresh(refresh)
	if err != nil {
		s.logger.Debug("logout with unusable refresh token", "error", err)
		return nil
	}

	_, err = s.storage.Refresh().Revoke(ctx, payload.TokenID)
	switch {
	case err == nil:
		s.logger.Info("refresh token revoked", "principal", payload.PrincipalID, "family", payload.FamilyID)
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		s.logger.Debug("logout with revoked or missing refresh token", "family", payload.FamilyID, "error", err)
	default:
		s.logger.Error("logout could not revoke refresh token", "family", payload.FamilyID, "error", err)
	}

	return nil
}

// Refresh exchanges refresh token for a new pair of the same family
// The presented token is revoked. Presenting revoked token again revokes the whole family
func (s *Service) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	payload, err := s.codec.VerifyRefresh(refresh)
	if err != nil {
		s.refreshFailed(err)
		return models.TokenPair{}, err
	}

	var pair models.TokenPair
	var kind models.Kind
	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		record, err := tx.Refresh().Revoke(ctx, payload.TokenID)
		if err != nil {
			return err
		}

		// Token ids are random, but the signed payload has to agree with the record anyway
		if record.PrincipalID != payload.PrincipalID || record.FamilyID != payload.FamilyID {
			return fmt.Errorf("%w: record does not match token", apperrors.ErrRefreshTokenNotFound)
		}
		if !s.now().Before(record.ExpiresAt) {
			return apperrors.ErrRefreshTokenExpired
		}

		account, err := tx.Principal().GetPrincipalByID(ctx, record.Kind, record.PrincipalID)
		switch {
		case errors.Is(err, apperrors.ErrPrincipalNotFound):
			return fmt.Errorf("%w: principal is gone", apperrors.ErrRefreshTokenNotFound)
		case err != nil:
			return err
		}

		user, err := identity.Resolve(account.Principal)
		if err != nil {
			return err
		}
		kind = user.Kind

		pair, err = s.issue(ctx, tx, user, record.FamilyID)
		return err
	})

	switch {
	case err == nil:
		s.metrics.PairIssued(metrics.ReasonRefresh, kind)
		s.logger.Info("token pair issued", "principal", payload.PrincipalID, "family", payload.FamilyID, "reason", metrics.ReasonRefresh)
		return pair, nil

	case errors.Is(err, apperrors.ErrRefreshTokenRevoked):
		s.refreshFailed(err)
		if !s.revokeFamily(ctx, payload.FamilyID) {
			return models.TokenPair{}, fmt.Errorf("refresh: %w", err)
		}
		return models.TokenPair{}, fmt.Errorf("refresh: %w", apperrors.ErrRefreshTokenReused)

	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		s.logger.Info("refresh rejected", "family", payload.FamilyID, "error", err)
		s.refreshFailed(err)
		return models.TokenPair{}, fmt.Errorf("refresh: %w", err)

	default:
		if _, ok := apperrors.KindOf(err); !ok {
			err = apperrors.NewAuthError(apperrors.KindStoreUnavailable, err)
		}
		s.logger.Error("refresh failed", "family", payload.FamilyID, "error", err)
		s.refreshFailed(err)
		return models.TokenPair{}, err
	}
}

// VerifyAccess checks access token and returns its user
func (s *Service) VerifyAccess(ctx context.Context, access string) (models.AuthUser, error) {
	claims, err := s.codec.VerifyAccess(access)
	if err != nil {
		return models.AuthUser{}, err
	}
	return claims.User(), nil
}

// Mint both tokens and store refresh record within tx
func (s *Service) issue(ctx context.Context, tx repository.Storage, user models.AuthUser, familyID string) (models.TokenPair, error) {
	access, err := s.codec.IssueAccess(user)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("access token could not be issued. Err: %w", err)
	}

	payload, refresh, err := s.codec.IssueRefresh(user.ID, user.Kind, familyID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("refresh token could not be issued. Err: %w", err)
	}

	err = tx.Refresh().Create(ctx, models.RefreshRecord{
		TokenID:     payload.TokenID,
		FamilyID:    payload.FamilyID,
		PrincipalID: payload.PrincipalID,
		Kind:        payload.Kind,
		IssuedAt:    payload.IssuedAt,
		ExpiresAt:   payload.ExpiresAt,
	})
	if err != nil {
		return models.TokenPair{}, apperrors.NewAuthError(apperrors.KindStoreUnavailable, err)
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

// Revoke family of the revoked token presented again
// Family with live records means the token was rotated and used again: reuse detected.
// Family without them has already ended (logout or earlier detection), nothing is reported
func (s *Service) revokeFamily(ctx context.Context, familyID string) bool {
	count, err := s.storage.Refresh().RevokeFamily(ctx, familyID)
	if err != nil {
		s.metrics.ReuseDetected()
		s.logger.Error("refresh token reuse detected, family not revoked", "family", familyID, "error", err)
		return true
	}

	if count == 0 {
		s.logger.Info("refresh rejected, session already ended", "family", familyID)
		return false
	}

	s.metrics.ReuseDetected()
	s.logger.Warn("refresh token reuse detected, family revoked", "family", familyID, "revoked", count)
	return true
}

func (s *Service) refreshFailed(err error) {
	reason, ok := apperrors.KindOf(err)
	switch {
	case ok:
	case errors.Is(err, apperrors.ErrRefreshTokenRevoked):
		reason = "REVOKED"
	case errors.Is(err, apperrors.ErrRefreshTokenExpired):
		reason = "EXPIRED_RECORD"
	default:
		reason = "NOT_FOUND"
	}
	s.metrics.RefreshFailed(string(reason))
}
