// Package memory keeps principals and refresh records in process memory.
// Data is lost on restart, so it suits tests and local development only.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository"
)

type principalKey struct {
	kind  models.Kind
	value string
}

type data struct {
	principals map[principalKey]models.PrincipalAccount // by kind and id
	usernames  map[principalKey]string                  // kind and username to id
	tokens     map[string]models.RefreshRecord          // by token id
}

func (d *data) clone() *data {
	return &data{
		principals: maps.Clone(d.principals),
		usernames:  maps.Clone(d.usernames),
		tokens:     maps.Clone(d.tokens),
	}
}

type Storage struct {
	mu   *sync.Mutex
	data *data
	now  func() time.Time

	// Lock is held by the enclosing InTx
	inTx bool
}

type Option func(*Storage)

// Clock used to decide if a record is expired
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		s.now = now
	}
}

func NewStorage(opts ...Option) *Storage {
	s := &Storage{
		mu: &sync.Mutex{},
		data: &data{
			principals: make(map[principalKey]models.PrincipalAccount),
			usernames:  make(map[principalKey]string),
			tokens:     make(map[string]models.RefreshRecord),
		},
		now: time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Storage) Principal() repository.PrincipalRepo {
	return &PrincipalRepo{s: s}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{s: s}
}

func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	err := fn(&Storage{mu: s.mu, data: s.data, now: s.now, inTx: true})
	if err != nil {
		*s.data = *snapshot
	}

	return err
}

func (s *Storage) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}
