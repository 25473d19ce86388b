package pattern

import (
	"context"
	"sync"
	"time"
)

// InMemoryRejectionStore is a map-backed RejectionStore for tests and
// single-process use.
type InMemoryRejectionStore struct {
	mu   sync.RWMutex
	data map[string]Rejection // userID + "|" + signature key
}

// NewInMemoryRejectionStore creates an empty in-memory store.
func NewInMemoryRejectionStore() *InMemoryRejectionStore {
	return &InMemoryRejectionStore{data: make(map[string]Rejection)}
}

// ListRejections returns all rejection records for a user.
func (s *InMemoryRejectionStore) ListRejections(_ context.Context, userID string) ([]Rejection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Rejection
	for _, r := range s.data {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// UpsertRejection inserts a record or increments the existing count.
// Permanence is sticky: once set it survives later non-permanent upserts.
func (s *InMemoryRejectionStore) UpsertRejection(_ context.Context, r Rejection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.UserID + "|" + r.Signature().String()
	if prev, ok := s.data[key]; ok {
		r.Count = prev.Count + r.Count
		r.Permanent = r.Permanent || prev.Permanent
	}
	r.UpdatedAt = time.Now().UTC()
	s.data[key] = r
	return nil
}
