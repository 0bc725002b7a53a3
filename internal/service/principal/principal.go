// Package principal registers principals and checks their credentials.
package principal

import (
	"context"
	"errors"
	"fmt"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository"
)

// Interface to create or compare principal password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type Service struct {
	hasher  PasswordHasher
	storage repository.Storage

	// Compared against when principal is missing, so response time does not reveal usernames
	dummyHash string
}

func NewService(hasher PasswordHasher, storage repository.Storage) (*Service, error) {
	if hasher == nil {
		hasher = DefaultHasher
	}

	dummyHash, err := hasher.Hash("dummy-password")
	if err != nil {
		return nil, fmt.Errorf("hasher is broken. Err: %w", err)
	}

	return &Service{
		hasher:    hasher,
		storage:   storage,
		dummyHash: dummyHash,
	}, nil
}

// Register principal with password
// Has to return apperrors.ErrPrincipalAlreadyExists if kind and username are taken
func (s *Service) Register(ctx context.Context, p models.Principal, password string) (models.Principal, error) {
	if password == "" {
		return nil, errors.New("password must not be empty")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	account, err := s.storage.Principal().CreatePrincipal(ctx, p, hash)
	if err != nil {
		return nil, fmt.Errorf("can't create principal. Err: %w", err)
	}

	return account.Principal, nil
}

// Authenticate principal by kind, username and password
// Has to return apperrors.ErrPrincipalNotFound if principal not found or password is wrong
func (s *Service) Authenticate(ctx context.Context, kind models.Kind, username string, password string) (models.Principal, error) {
	account, err := s.storage.Principal().GetPrincipalByUsername(ctx, kind, username)
	switch {
	case errors.Is(err, apperrors.ErrPrincipalNotFound):
		_ = s.hasher.Compare(s.dummyHash, password)
		return nil, apperrors.ErrPrincipalNotFound
	case err != nil:
		return nil, err
	}

	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		return nil, apperrors.ErrPrincipalNotFound
	}

	return account.Principal, nil
}

// Get principal by kind and id
func (s *Service) GetPrincipal(ctx context.Context, kind models.Kind, id string) (models.Principal, error) {
	account, err := s.storage.Principal().GetPrincipalByID(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return account.Principal, nil
}
