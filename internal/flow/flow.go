// Package flow manages the lifecycle of automation flows built from
// detected patterns.
//
// A flow moves DETECTED → SUGGESTED → ACTIVE, may degrade to MODIFIED
// when the user keeps editing its runs, and lands in DISABLED after
// three consecutive rejections or an explicit disable. Execution is
// confirmation-gated: Trigger only proposes concrete items through the
// token registry, never creates them directly.
package flow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/plannerd/internal/pattern"
)

// State is a flow lifecycle state.
type State string

const (
	StateDetected  State = "DETECTED"
	StateSuggested State = "SUGGESTED"
	StateActive    State = "ACTIVE"
	StateModified  State = "MODIFIED"
	StateDisabled  State = "DISABLED"
)

const (
	// SuggestionThreshold is the candidate confidence needed to move
	// DETECTED → SUGGESTED.
	SuggestionThreshold = 0.7

	// MaxConsecutiveRejections disables a flow for good.
	MaxConsecutiveRejections = 3

	// RunWindow is the ring size of remembered runs.
	RunWindow = 4

	// EditedRunLimit is the edited-run count within the window that
	// marks a flow as needing an update.
	EditedRunLimit = 3

	// DefaultReminderLead is how far ahead Trigger proposes a run.
	DefaultReminderLead = 24 * time.Hour
)

// FlowConfig is the template a flow stamps out on each run.
type FlowConfig struct {
	Title           string        `json:"title"`
	Category        string        `json:"category"`
	DurationMinutes int           `json:"duration_minutes"`
	Weekday         time.Weekday  `json:"weekday"`
	HourBucket      int           `json:"hour_bucket"`
	ReminderLead    time.Duration `json:"reminder_lead"`
}

// RunRecord is one execution of a flow. Title and DurationMinutes hold
// the final values the run landed with, so edited runs keep what the
// user corrected to and RevisedConfig can recalculate the template.
type RunRecord struct {
	RunAt           time.Time `json:"run_at" db:"run_at"`
	Edited          bool      `json:"edited" db:"edited"`
	Title           string    `json:"title,omitempty" db:"title"`
	DurationMinutes int       `json:"duration_minutes,omitempty" db:"duration_minutes"`
}

// Flow is one automation flow.
type Flow struct {
	ID                    string            `json:"id" db:"id"`
	UserID                string            `json:"user_id" db:"user_id"`
	Signature             pattern.Signature `json:"signature"`
	State                 State             `json:"state" db:"state"`
	Confidence            float64           `json:"confidence" db:"confidence"`
	Config                FlowConfig        `json:"config"`
	ConsecutiveRejections int               `json:"consecutive_rejections" db:"consecutive_rejections"`
	RecentRuns            []RunRecord       `json:"recent_runs"`
	SuggestedAt           *time.Time        `json:"suggested_at,omitempty" db:"suggested_at"`
	DecidedAt             *time.Time        `json:"decided_at,omitempty" db:"decided_at"`
	LastTriggered         *time.Time        `json:"last_triggered,omitempty" db:"last_triggered"`
	CreatedAt             time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at" db:"updated_at"`
}

// EditedRuns counts edited entries in the run window.
func (f *Flow) EditedRuns() int {
	n := 0
	for _, r := range f.RecentRuns {
		if r.Edited {
			n++
		}
	}
	return n
}

// RevisedConfig recalculates the template from the edited runs in the
// window: the title, slot, and duration the user keeps correcting to,
// instead of what the original pattern suggested. With no edited runs
// the current config comes back unchanged.
func (f *Flow) RevisedConfig() FlowConfig {
	cfg := f.Config
	var (
		titles    []string
		weekdays  []time.Weekday
		hours     []int
		durations []int
	)
	for _, r := range f.RecentRuns {
		if !r.Edited {
			continue
		}
		if r.Title != "" {
			titles = append(titles, r.Title)
		}
		weekdays = append(weekdays, r.RunAt.Weekday())
		hours = append(hours, r.RunAt.Hour())
		if r.DurationMinutes > 0 {
			durations = append(durations, r.DurationMinutes)
		}
	}
	if t, ok := dominant(titles); ok {
		cfg.Title = t
	}
	if wd, ok := dominant(weekdays); ok {
		cfg.Weekday = wd
	}
	if h, ok := dominant(hours); ok {
		cfg.HourBucket = h
	}
	if d, ok := dominant(durations); ok {
		cfg.DurationMinutes = d
	}
	return cfg
}

// dominant returns the most frequent value; ties go to the latest one
// seen, so the user's most recent habit wins.
func dominant[T comparable](values []T) (T, bool) {
	var (
		best  T
		bestN int
		found bool
	)
	counts := make(map[T]int, len(values))
	for _, v := range values {
		counts[v]++
		if counts[v] >= bestN {
			best, bestN, found = v, counts[v], true
		}
	}
	return best, found
}

// Proposal is a confirmation-gated concrete run of a flow. The token
// holder may turn it into a real item; nothing happens otherwise.
type Proposal struct {
	FlowID   string    `json:"flow_id"`
	UserID   string    `json:"user_id"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Store is the persistence the flow manager needs.
type Store interface {
	// GetFlow returns a flow by id, or nil when absent.
	GetFlow(ctx context.Context, id string) (*Flow, error)

	// GetFlowBySignature returns the user's flow for a signature, or
	// nil when absent.
	GetFlowBySignature(ctx context.Context, userID string, sig pattern.Signature) (*Flow, error)

	// ListFlows returns a user's flows, optionally filtered by state.
	ListFlows(ctx context.Context, userID string, states ...State) ([]Flow, error)

	// ListActiveFlows returns ACTIVE flows across all users, for the
	// trigger job.
	ListActiveFlows(ctx context.Context) ([]Flow, error)

	// SaveFlow inserts or updates a flow including its run window.
	SaveFlow(ctx context.Context, f *Flow) error
}

// Notifier is the slice of the event bus the flow manager uses.
type Notifier interface {
	Suggestion(userID, kind string, payload map[string]any) error
	Reminder(userID, kind string, payload map[string]any) error
}

// RejectionSink records rejected signatures so the pattern detector
// damps them on later scans.
type RejectionSink interface {
	RecordRejection(ctx context.Context, userID string, sig pattern.Signature, permanent bool) error
}

// InMemoryStore is a map-backed Store for tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	flows map[string]Flow
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{flows: make(map[string]Flow)}
}

func (s *InMemoryStore) GetFlow(_ context.Context, id string) (*Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.flows[id]; ok {
		return cloneFlow(f), nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetFlowBySignature(_ context.Context, userID string, sig pattern.Signature) (*Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.flows {
		if f.UserID == userID && f.Signature == sig {
			return cloneFlow(f), nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListFlows(_ context.Context, userID string, states ...State) ([]Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Flow
	for _, f := range s.flows {
		if f.UserID != userID {
			continue
		}
		if len(states) > 0 && !stateIn(f.State, states) {
			continue
		}
		out = append(out, *cloneFlow(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) ListActiveFlows(_ context.Context) ([]Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Flow
	for _, f := range s.flows {
		if f.State == StateActive {
			out = append(out, *cloneFlow(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) SaveFlow(_ context.Context, f *Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID] = *cloneFlow(*f)
	return nil
}

func stateIn(s State, states []State) bool {
	for _, st := range states {
		if s == st {
			return true
		}
	}
	return false
}

func cloneFlow(f Flow) *Flow {
	out := f
	out.RecentRuns = append([]RunRecord(nil), f.RecentRuns...)
	if f.SuggestedAt != nil {
		t := *f.SuggestedAt
		out.SuggestedAt = &t
	}
	if f.DecidedAt != nil {
		t := *f.DecidedAt
		out.DecidedAt = &t
	}
	if f.LastTriggered != nil {
		t := *f.LastTriggered
		out.LastTriggered = &t
	}
	return &out
}
