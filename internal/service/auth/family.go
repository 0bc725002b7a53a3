package auth

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Family ids are ULIDs: sortable by login time, so audit logs list families in order
type familyIDs struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

func newFamilyIDs(now func() time.Time) *familyIDs {
	return &familyIDs{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     now,
	}
}

func (g *familyIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(g.now().UTC()), g.entropy).String()
}
