// Package learning turns explicit user corrections into bounded
// preference updates.
//
// Every correction is persisted append-only and applied to the
// preference model as at most one ±0.1 weight step per touched key. A
// periodic calibration pass re-derives weights from the rolling
// correction window, decays stale keys, and adjusts per-kind suggestion
// thresholds from observed accuracy.
package learning

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/plannerd/internal/preference"
)

// Kind classifies what the user corrected.
type Kind string

const (
	KindReschedule     Kind = "reschedule"
	KindDurationChange Kind = "duration_change"
	KindRejection      Kind = "rejection"
	KindAcceptance     Kind = "acceptance"
)

// Valid reports whether k is a known correction kind.
func (k Kind) Valid() bool {
	switch k {
	case KindReschedule, KindDurationChange, KindRejection, KindAcceptance:
		return true
	}
	return false
}

const (
	// BaseStep is the largest weight movement a single correction may
	// cause on any one key.
	BaseStep = 0.1

	// AcceptFactor shrinks the step for plain acceptances; agreeing
	// with a suggestion is weaker evidence than correcting it.
	AcceptFactor = 0.5

	// CalibrationWindow is the rolling window Calibrate considers.
	CalibrationWindow = 90 * 24 * time.Hour

	// StaleDecayFactor multiplies the confidence of keys with no
	// samples inside the calibration window.
	StaleDecayFactor = 0.9

	// DriftTolerance is how far the incremental weight may sit from the
	// window-recomputed weight before calibration nudges it back.
	DriftTolerance = 0.2

	// RoutineShare is the completion share an hour bucket needs before
	// the pattern scan counts it as time-of-day evidence.
	RoutineShare = 0.3
)

// Suggestion-threshold adjustment bounds (original-system adaptive
// thresholds: suggest more when accurate, less when noisy).
const (
	DefaultThreshold = 0.7
	MinThreshold     = 0.5
	MaxThreshold     = 0.9
	ThresholdStep    = 0.05
	HighAccuracy     = 0.8
	LowAccuracy      = 0.5
)

// Correction is one recorded user correction. FromValue is the key the
// user moved away from, ToValue the key they moved to; either may be
// empty for one-sided kinds (rejection, acceptance).
type Correction struct {
	ID         string               `json:"id" db:"id"`
	UserID     string               `json:"user_id" db:"user_id"`
	ItemID     string               `json:"item_id" db:"item_id"`
	Kind       Kind                 `json:"kind" db:"kind"`
	Dimension  preference.Dimension `json:"dimension" db:"dimension"`
	Key        string               `json:"key" db:"key"`
	FromValue  string               `json:"from_value" db:"from_value"`
	ToValue    string               `json:"to_value" db:"to_value"`
	ObservedAt time.Time            `json:"observed_at" db:"observed_at"`
}

// Calibration is the adaptive suggestion threshold for one correction
// kind, derived from rolling accuracy.
type Calibration struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Kind      Kind      `json:"kind" db:"kind"`
	Threshold float64   `json:"threshold" db:"threshold"`
	Accuracy  float64   `json:"accuracy" db:"accuracy"`
	Samples   int       `json:"samples" db:"samples"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CalibrationReport summarizes one calibration pass.
type CalibrationReport struct {
	UserID      string        `json:"user_id"`
	Corrections int           `json:"corrections"`
	Adjusted    []Calibration `json:"adjusted"`
	Reconciled  []string      `json:"reconciled"`
	DecayedKeys []string      `json:"decayed_keys"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Store is the persistence the learner needs.
type Store interface {
	// SaveCorrection appends one correction. Corrections are never
	// updated or deleted.
	SaveCorrection(ctx context.Context, c Correction) error

	// ListCorrections returns a user's corrections observed at or after
	// since, newest first. limit <= 0 means no limit.
	ListCorrections(ctx context.Context, userID string, since time.Time, limit int) ([]Correction, error)

	// GetCalibration returns the stored calibration for (user, kind),
	// or nil when none exists yet.
	GetCalibration(ctx context.Context, userID string, kind Kind) (*Calibration, error)

	// UpsertCalibration writes a calibration row.
	UpsertCalibration(ctx context.Context, c Calibration) error
}

// InMemoryStore is a map-backed Store for tests.
type InMemoryStore struct {
	mu           sync.RWMutex
	corrections  []Correction
	calibrations map[string]Calibration // userID + "|" + kind
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{calibrations: make(map[string]Calibration)}
}

func (s *InMemoryStore) SaveCorrection(_ context.Context, c Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrections = append(s.corrections, c)
	return nil
}

func (s *InMemoryStore) ListCorrections(_ context.Context, userID string, since time.Time, limit int) ([]Correction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Correction
	for _, c := range s.corrections {
		if c.UserID == userID && !c.ObservedAt.Before(since) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) GetCalibration(_ context.Context, userID string, kind Kind) (*Calibration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.calibrations[userID+"|"+string(kind)]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *InMemoryStore) UpsertCalibration(_ context.Context, c Calibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibrations[c.UserID+"|"+string(c.Kind)] = c
	return nil
}
