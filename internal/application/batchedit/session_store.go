package batchedit

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

const (
	defaultSessionTTL  = 30 * time.Minute
	defaultMaxSessions = 256
)

// sessionEntry is one live dialog. mu guards session and sim.
type sessionEntry struct {
	mu        sync.Mutex
	session   *domainbatch.ParseSession
	sim       *domainbatch.Simulation
	expiresAt time.Time
}

// SessionStore keeps parse sessions in an LRU cache bounded by max. Entries
// also expire ttl after their last access; the deadline is checked against
// the injected clock so expiry follows the service's notion of time.
type SessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries *lru.Cache[string, *sessionEntry]
}

// NewSessionStore creates a store. Zero ttl or max select the defaults.
func NewSessionStore(ttl time.Duration, max int, now func() time.Time) *SessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if max <= 0 {
		max = defaultMaxSessions
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, *sessionEntry](max)
	return &SessionStore{ttl: ttl, now: now, entries: entries}
}

// Put registers s with its first simulation. Expired entries are dropped
// first so a full store only evicts a live session when it has to.
func (st *SessionStore) Put(s *domainbatch.ParseSession, sim *domainbatch.Simulation) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	st.sweepLocked(now)
	st.entries.Add(s.ID, &sessionEntry{session: s, sim: sim, expiresAt: now.Add(st.ttl)})
}

// Get returns the entry for id, marks it most recently used and extends its
// lifetime.
func (st *SessionStore) Get(id string) (*sessionEntry, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.entries.Get(id)
	now := st.now()
	if !ok || now.After(e.expiresAt) {
		st.entries.Remove(id)
		return nil, errors.New(errors.ErrCodeSessionNotFound, "batch-edit session not found").WithDetail(id)
	}
	e.expiresAt = now.Add(st.ttl)
	return e, nil
}

// Delete removes id and reports whether it existed.
func (st *SessionStore) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.entries.Remove(id)
}

// Len returns the number of entries, expired ones included.
func (st *SessionStore) Len() int {
	return st.entries.Len()
}

// Sweep drops expired entries and returns how many were removed.
func (st *SessionStore) Sweep() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sweepLocked(st.now())
}

// Run sweeps every interval until ctx ends.
func (st *SessionStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = st.ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep()
		}
	}
}

// sweepLocked uses Peek so a sweep never changes recency.
func (st *SessionStore) sweepLocked(now time.Time) int {
	n := 0
	for _, id := range st.entries.Keys() {
		if e, ok := st.entries.Peek(id); ok && now.After(e.expiresAt) {
			st.entries.Remove(id)
			n++
		}
	}
	return n
}
