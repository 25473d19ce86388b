// Package confirm is the confirmation gate between proposing a mutation
// and executing it.
//
// Proposers register a pending payload and hand the returned token to
// the user; executors redeem the token exactly once. Tokens expire
// after a TTL and are deliberately process-local: a restart invalidates
// pending proposals, which are cheap to re-propose.
package confirm

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/plannerd/internal/engine/faults"
)

// DefaultTTL is how long a registered token stays redeemable.
const DefaultTTL = 24 * time.Hour

// entry is one pending payload with its deadline.
type entry[T any] struct {
	payload   T
	expiresAt time.Time
}

// Registry holds pending payloads keyed by single-use tokens.
type Registry[T any] struct {
	mu       sync.RWMutex
	ttl      time.Duration
	pending  map[string]entry[T]
	consumed map[string]time.Time
	now      func() time.Time
}

// NewRegistry creates a registry with the given TTL; ttl <= 0 uses
// DefaultTTL.
func NewRegistry[T any](ttl time.Duration) *Registry[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry[T]{
		ttl:      ttl,
		pending:  make(map[string]entry[T]),
		consumed: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Register stores a payload and returns its token and expiry. Expired
// entries and aged-out consumption markers are evicted on the way in.
func (r *Registry[T]) Register(payload T) (string, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	token := uuid.NewString()
	expiresAt := r.now().Add(r.ttl)
	r.pending[token] = entry[T]{payload: payload, expiresAt: expiresAt}
	return token, expiresAt
}

// Take redeems a token exactly once and returns its payload. Expired,
// already-consumed, and unknown tokens all fail with a StaleToken error
// carrying the precise reason.
func (r *Registry[T]) Take(token string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	e, ok := r.pending[token]
	if !ok {
		if _, was := r.consumed[token]; was {
			return zero, faults.Stale(token, "consumed")
		}
		return zero, faults.Stale(token, "unknown")
	}

	now := r.now()
	if now.After(e.expiresAt) {
		delete(r.pending, token)
		return zero, faults.Stale(token, "expired")
	}

	delete(r.pending, token)
	r.consumed[token] = now.Add(r.ttl)
	return e.payload, nil
}

// Peek returns a pending payload without consuming it.
func (r *Registry[T]) Peek(token string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	e, ok := r.pending[token]
	if !ok || r.now().After(e.expiresAt) {
		return zero, false
	}
	return e.payload, true
}

// Sweep evicts expired tokens and aged-out consumption markers, and
// returns how many pending entries were dropped. Register runs the same
// eviction, so Sweep only matters for callers reclaiming memory from an
// idle registry.
func (r *Registry[T]) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked()
}

func (r *Registry[T]) sweepLocked() int {
	now := r.now()
	dropped := 0
	for token, e := range r.pending {
		if now.After(e.expiresAt) {
			delete(r.pending, token)
			dropped++
		}
	}
	for token, until := range r.consumed {
		if now.After(until) {
			delete(r.consumed, token)
		}
	}
	return dropped
}

// Len reports how many proposals are currently pending.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}
