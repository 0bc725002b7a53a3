package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

type PrincipalRepo struct {
	s *Storage
}

func (r *PrincipalRepo) CreatePrincipal(ctx context.Context, principal models.Principal, passwordHash string) (models.PrincipalAccount, error) {
	defer r.s.lock()()

	kind := principal.PrincipalKind()
	usernameKey := principalKey{kind: kind, value: principal.PrincipalUsername()}
	if _, ok := r.s.data.usernames[usernameKey]; ok {
		return models.PrincipalAccount{}, apperrors.ErrPrincipalAlreadyExists
	}

	id := principal.PrincipalID()
	if id == "" {
		id = uuid.NewString()
	}
	idKey := principalKey{kind: kind, value: id}
	if _, ok := r.s.data.principals[idKey]; ok {
		return models.PrincipalAccount{}, apperrors.ErrPrincipalAlreadyExists
	}

	account := models.PrincipalAccount{
		Principal:    models.WithID(principal, id),
		PasswordHash: passwordHash,
		CreatedAt:    r.s.now().UTC(),
	}
	r.s.data.principals[idKey] = account
	r.s.data.usernames[usernameKey] = id

	return account, nil
}

func (r *PrincipalRepo) GetPrincipalByID(ctx context.Context, kind models.Kind, id string) (models.PrincipalAccount, error) {
	defer r.s.lock()()

	account, ok := r.s.data.principals[principalKey{kind: kind, value: id}]
	if !ok {
		return account, apperrors.ErrPrincipalNotFound
	}
	return account, nil
}

func (r *PrincipalRepo) GetPrincipalByUsername(ctx context.Context, kind models.Kind, username string) (models.PrincipalAccount, error) {
	defer r.s.lock()()

	id, ok := r.s.data.usernames[principalKey{kind: kind, value: username}]
	if !ok {
		return models.PrincipalAccount{}, apperrors.ErrPrincipalNotFound
	}
	return r.s.data.principals[principalKey{kind: kind, value: id}], nil
}
