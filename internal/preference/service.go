package preference

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/engine/faults"
)

// Delta is one bounded adjustment to a (dimension, key) weight.
// Agree steers the Beta evidence: true adds to alpha, false to beta.
type Delta struct {
	Dimension  Dimension
	Key        string
	WeightStep float64
	Agree      bool
}

// Service reads and updates per-user preferences.
//
// Apply is the only mutation path; the correction learner and the
// calibration pass both go through it, so the [0,1] clamps and the
// bounded-step guarantee hold everywhere.
type Service struct {
	store   Store
	logger  *zap.Logger
	maxStep float64
	now     func() time.Time
}

// Option tunes the service.
type Option func(*Service)

// WithMaxStep overrides the per-update weight step bound. Non-positive
// values keep DefaultMaxStep.
func WithMaxStep(step float64) Option {
	return func(s *Service) {
		if step > 0 {
			s.maxStep = step
		}
	}
}

// NewService creates a preference service.
func NewService(store Store, logger *zap.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:   store,
		logger:  logger,
		maxStep: DefaultMaxStep,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the preference for (userID, dim, key). A never-observed
// triple returns the neutral prior, not an error.
func (s *Service) Get(ctx context.Context, userID string, dim Dimension, key string) (Preference, error) {
	if userID == "" {
		return Preference{}, faults.Validationf("user_id", "must not be empty")
	}

	p, err := s.store.GetPreference(ctx, userID, dim, key)
	if err != nil {
		return Preference{}, fmt.Errorf("getting preference: %w", err)
	}
	if p == nil {
		return Neutral(userID, dim, key), nil
	}
	return *p, nil
}

// Snapshot returns a read-only view of all the user's preferences,
// grouped by dimension.
func (s *Service) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	if userID == "" {
		return nil, faults.Validationf("user_id", "must not be empty")
	}

	prefs, err := s.store.ListPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing preferences: %w", err)
	}

	snap := make(Snapshot, len(prefs))
	for _, p := range prefs {
		snap[p.Dimension] = append(snap[p.Dimension], p)
	}
	return snap, nil
}

// Apply moves one weight by a bounded step and updates the Beta
// evidence. The step is clamped to ±maxStep before it touches the
// weight, and the resulting weight is clamped to [0,1]. Confidence is
// recomputed from the evidence, never set directly, so it only changes
// together with a sample-count increment.
func (s *Service) Apply(ctx context.Context, userID string, d Delta) (Preference, error) {
	if userID == "" {
		return Preference{}, faults.Validationf("user_id", "must not be empty")
	}
	if d.Key == "" {
		return Preference{}, faults.Validationf("key", "must not be empty")
	}

	p, err := s.Get(ctx, userID, d.Dimension, d.Key)
	if err != nil {
		return Preference{}, err
	}

	step := d.WeightStep
	if step > s.maxStep {
		step = s.maxStep
	}
	if step < -s.maxStep {
		step = -s.maxStep
	}

	p.Weight = clamp01(p.Weight + step)
	if d.Agree {
		p.Alpha++
	} else {
		p.Beta++
	}
	p.Confidence = p.Alpha / (p.Alpha + p.Beta)
	p.SampleCount++
	p.UpdatedAt = s.now().UTC()

	if err := s.store.UpsertPreference(ctx, p); err != nil {
		return Preference{}, fmt.Errorf("upserting preference: %w", err)
	}

	s.logger.Debug("preference updated",
		zap.String("user_id", userID),
		zap.String("dimension", string(d.Dimension)),
		zap.String("key", d.Key),
		zap.Float64("weight", p.Weight),
		zap.Float64("confidence", p.Confidence),
		zap.Int("samples", p.SampleCount))

	return p, nil
}

// Decay scales a preference's confidence by factor, keeping the total
// evidence mass constant. The calibration pass uses it to age out keys
// with no recent samples; factor must be in (0,1].
func (s *Service) Decay(ctx context.Context, userID string, dim Dimension, key string, factor float64) (Preference, error) {
	if factor <= 0 || factor > 1 {
		return Preference{}, faults.Validationf("factor", "must be in (0,1], got %v", factor)
	}

	p, err := s.store.GetPreference(ctx, userID, dim, key)
	if err != nil {
		return Preference{}, fmt.Errorf("getting preference: %w", err)
	}
	if p == nil {
		// Nothing stored; nothing to decay.
		return Neutral(userID, dim, key), nil
	}

	total := p.Alpha + p.Beta
	p.Confidence = clamp01(p.Confidence * factor)
	p.Alpha = p.Confidence * total
	p.Beta = total - p.Alpha
	p.UpdatedAt = s.now().UTC()

	if err := s.store.UpsertPreference(ctx, *p); err != nil {
		return Preference{}, fmt.Errorf("upserting preference: %w", err)
	}
	return *p, nil
}
