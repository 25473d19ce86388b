// Package syncrec reconciles internal items with external calendar
// events.
//
// Each item holds at most one link to an external event. Reconcile
// diffs both sides and marks links DRIFTED or ORPHANED; every
// corrective mutation — of the calendar or of item times — goes
// through propose/apply with a single-use confirmation token. A
// reconcile run on its own never writes to the calendar.
package syncrec

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/plannerd/internal/calendar"
	"github.com/fyrsmithlabs/plannerd/internal/model"
)

const (
	// DriftTolerance is the allowed disagreement between item and
	// event times before a link counts as drifted.
	DriftTolerance = time.Minute

	// ReconcileHorizon bounds the event fetch window on each side of
	// now.
	ReconcileHorizon = 7 * 24 * time.Hour

	// OrphanGrace keeps links whose item was scheduled recently, so a
	// slow-propagating create is not mistaken for a deletion.
	OrphanGrace = 24 * time.Hour

	// LinkScoreFloor is the minimum similarity for a relink
	// suggestion.
	LinkScoreFloor = 0.4

	// MaxLinkSuggestions caps relink proposals per reconcile run.
	MaxLinkSuggestions = 10
)

// LinkState is a sync-link lifecycle state.
type LinkState string

const (
	LinkUnlinked LinkState = "UNLINKED"
	LinkPending  LinkState = "PENDING_CONFIRMATION"
	LinkLinked   LinkState = "LINKED"
	LinkDrifted  LinkState = "DRIFTED"
	LinkOrphaned LinkState = "ORPHANED"
)

// ActionKind names a proposable mutation.
type ActionKind string

const (
	ActionCreateEvent     ActionKind = "create_event"
	ActionUpdateEvent     ActionKind = "update_event"
	ActionDeleteEvent     ActionKind = "delete_event"
	ActionRelink          ActionKind = "relink"
	ActionUnlink          ActionKind = "unlink"
	ActionAdoptEventTimes ActionKind = "adopt_event_times"
)

// Link pairs one item with zero-or-one external event. EventStart and
// EventEnd are the calendar side as of LastSyncedAt.
type Link struct {
	ItemID       string    `json:"item_id" db:"item_id"`
	UserID       string    `json:"user_id" db:"user_id"`
	EventID      string    `json:"event_id" db:"event_id"`
	State        LinkState `json:"state" db:"state"`
	EventStart   time.Time `json:"event_start" db:"event_start"`
	EventEnd     time.Time `json:"event_end" db:"event_end"`
	LastSyncedAt time.Time `json:"last_synced_at" db:"last_synced_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Patch is the payload an action carries: the exact values Apply will
// write, captured at propose time.
type Patch struct {
	Title string    `json:"title,omitempty"`
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Action is a proposed mutation awaiting confirmation.
type Action struct {
	Token     string     `json:"token"`
	UserID    string     `json:"user_id"`
	Kind      ActionKind `json:"kind"`
	ItemID    string     `json:"item_id,omitempty"`
	EventID   string     `json:"event_id,omitempty"`
	Patch     Patch      `json:"patch"`
	Reason    string     `json:"reason,omitempty"`
	Score     float64    `json:"score,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Drift surfaces both versions of a mismatched link.
type Drift struct {
	ItemID     string    `json:"item_id"`
	EventID    string    `json:"event_id"`
	ItemStart  time.Time `json:"item_start"`
	ItemEnd    time.Time `json:"item_end"`
	EventStart time.Time `json:"event_start"`
	EventEnd   time.Time `json:"event_end"`
}

// Report is the outcome of one reconcile run.
type Report struct {
	UserID      string            `json:"user_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Counts      map[LinkState]int `json:"counts"`
	Drifts      []Drift           `json:"drifts,omitempty"`
	Actions     []Action          `json:"actions,omitempty"`
}

// Store is the persistence the reconciler needs. Implementations back
// Apply's multi-step writes with a transaction.
type Store interface {
	// GetLink returns the link for an item, or nil when absent.
	GetLink(ctx context.Context, itemID string) (*Link, error)

	// ListLinks returns all links for a user.
	ListLinks(ctx context.Context, userID string) ([]Link, error)

	// SaveLink inserts or updates a link.
	SaveLink(ctx context.Context, l *Link) error

	// DeleteLink removes an item's link. Missing links are not an
	// error.
	DeleteLink(ctx context.Context, itemID string) error

	// ListItems returns a user's non-cancelled items.
	ListItems(ctx context.Context, userID string) ([]model.Item, error)

	// GetItem returns an item by id, or nil when absent.
	GetItem(ctx context.Context, itemID string) (*model.Item, error)

	// AdoptEventTimes rewrites an item's scheduled window from the
	// calendar side.
	AdoptEventTimes(ctx context.Context, itemID string, start, end time.Time) error
}

// Notifier is the slice of the event bus the reconciler uses.
type Notifier interface {
	Sync(userID, kind string, payload map[string]any) error
}

// Similarity scores how likely an event and an item describe the same
// commitment: title word overlap, start-vs-due proximity, and
// start-vs-scheduled proximity. Returns the score and human-readable
// reasons.
func Similarity(item model.Item, ev calendar.Event) (float64, []string) {
	score := 0.0
	var reasons []string

	itemWords := wordSet(item.Title)
	eventWords := wordSet(ev.Title)
	if len(itemWords) > 0 && len(eventWords) > 0 {
		overlap := 0
		for w := range eventWords {
			if itemWords[w] {
				overlap++
			}
		}
		union := len(itemWords) + len(eventWords) - overlap
		ratio := float64(overlap) / float64(union)
		if ratio > 0.3 {
			score += ratio * 0.6
			reasons = append(reasons, fmt.Sprintf("title overlap %.0f%%", ratio*100))
		}
	}

	if item.DueAt != nil {
		diff := absDuration(ev.Start.Sub(*item.DueAt))
		switch {
		case diff < time.Hour:
			score += 0.3
			reasons = append(reasons, "starts near due time")
		case diff < 24*time.Hour:
			score += 0.1
			reasons = append(reasons, "starts within a day of due time")
		}
	}

	if item.ScheduledStart != nil {
		if absDuration(ev.Start.Sub(*item.ScheduledStart)) < time.Hour {
			score += 0.4
			reasons = append(reasons, "matches scheduled time")
		}
	}

	return min(score, 1.0), reasons
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// InMemoryStore is a map-backed Store for tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	links map[string]Link
	items map[string]model.Item
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		links: make(map[string]Link),
		items: make(map[string]model.Item),
	}
}

// PutItem seeds an item.
func (s *InMemoryStore) PutItem(item model.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

func (s *InMemoryStore) GetLink(_ context.Context, itemID string) (*Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.links[itemID]; ok {
		return &l, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListLinks(_ context.Context, userID string) ([]Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Link
	for _, l := range s.links {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (s *InMemoryStore) SaveLink(_ context.Context, l *Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[l.ItemID] = *l
	return nil
}

func (s *InMemoryStore) DeleteLink(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, itemID)
	return nil
}

func (s *InMemoryStore) ListItems(_ context.Context, userID string) ([]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Item
	for _, it := range s.items {
		if it.UserID == userID && it.Status != model.StatusCancelled {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) GetItem(_ context.Context, itemID string) (*model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if it, ok := s.items[itemID]; ok {
		return &it, nil
	}
	return nil, nil
}

func (s *InMemoryStore) AdoptEventTimes(_ context.Context, itemID string, start, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return fmt.Errorf("item %s not found", itemID)
	}
	it.ScheduledStart = &start
	it.ScheduledEnd = &end
	it.UpdatedAt = time.Now()
	s.items[itemID] = it
	return nil
}
