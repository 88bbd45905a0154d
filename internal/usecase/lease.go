package usecase

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"BookmarkEnricher/internal/internalerr"
)

// LeaseTable hands out per-document enrichment leases so two concurrent
// submissions for the same document cannot both transition it to
// Processing. A lease is a token plus expiry; the expiry lets a crashed
// holder recover without manual intervention.
type LeaseTable struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	leases map[int64]lease
}

type lease struct {
	token   string
	expires time.Time
}

// NewLeaseTable builds a table with the given lease TTL.
func NewLeaseTable(ttl time.Duration) *LeaseTable {
	return &LeaseTable{
		ttl:    ttl,
		now:    time.Now,
		leases: make(map[int64]lease),
	}
}

// Acquire claims the document. Returns ErrLeaseHeld while a live lease
// exists; expired leases are taken over.
func (t *LeaseTable) Acquire(documentID int64) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if held, ok := t.leases[documentID]; ok && t.now().Before(held.expires) {
		return "", internalerr.ErrLeaseHeld
	}

	token := uuid.NewString()
	t.leases[documentID] = lease{token: token, expires: t.now().Add(t.ttl)}
	return token, nil
}

// Release frees the document if the token still matches. A stale token
// (taken over after expiry) is a no-op.
func (t *LeaseTable) Release(documentID int64, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if held, ok := t.leases[documentID]; ok && held.token == token {
		delete(t.leases, documentID)
	}
}
