package preference

import (
	"context"
	"sort"
	"sync"
)

// Store defines the persistence interface for preferences.
//
// Implemented by the SQLite store; InMemoryStore serves tests.
type Store interface {
	// GetPreference returns the stored preference, or nil when the
	// (user, dimension, key) triple has never been written.
	GetPreference(ctx context.Context, userID string, dim Dimension, key string) (*Preference, error)

	// UpsertPreference inserts or replaces a preference row.
	UpsertPreference(ctx context.Context, p Preference) error

	// ListPreferences returns all preferences for a user.
	ListPreferences(ctx context.Context, userID string) ([]Preference, error)
}

// InMemoryStore is a map-backed Store for tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]Preference // userID|dim|key
}

// NewInMemoryStore creates an empty in-memory preference store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{prefs: make(map[string]Preference)}
}

func prefKey(userID string, dim Dimension, key string) string {
	return userID + "|" + string(dim) + "|" + key
}

// GetPreference returns the stored preference or nil.
func (s *InMemoryStore) GetPreference(ctx context.Context, userID string, dim Dimension, key string) (*Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.prefs[prefKey(userID, dim, key)]; ok {
		return &p, nil
	}
	return nil, nil
}

// UpsertPreference inserts or replaces a preference.
func (s *InMemoryStore) UpsertPreference(ctx context.Context, p Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs[prefKey(p.UserID, p.Dimension, p.Key)] = p
	return nil
}

// ListPreferences returns all preferences for a user, ordered by
// dimension then key for deterministic iteration.
func (s *InMemoryStore) ListPreferences(ctx context.Context, userID string) ([]Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Preference
	for _, p := range s.prefs {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dimension != out[j].Dimension {
			return out[i].Dimension < out[j].Dimension
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}
