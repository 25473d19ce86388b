package learning

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/engine/faults"
	"github.com/fyrsmithlabs/plannerd/internal/preference"
)

// Service records corrections and maintains the preference model.
type Service struct {
	store  Store
	prefs  *preference.Service
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a correction learner.
func NewService(store Store, prefs *preference.Service, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if prefs == nil {
		return nil, fmt.Errorf("preference service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, prefs: prefs, logger: logger, now: time.Now}, nil
}

// Record validates and persists one correction, then applies its bounded
// preference steps: the corrected-away key moves down and the
// corrected-to key moves up, each by at most BaseStep.
func (s *Service) Record(ctx context.Context, c Correction) error {
	if c.UserID == "" {
		return faults.Validationf("user_id", "must not be empty")
	}
	if !c.Kind.Valid() {
		return faults.Validationf("kind", "unknown correction kind %q", c.Kind)
	}
	if c.Dimension == "" {
		return faults.Validationf("dimension", "must not be empty")
	}
	if c.FromValue == "" && c.ToValue == "" {
		return faults.Validationf("value", "correction needs a from or to value")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ObservedAt.IsZero() {
		c.ObservedAt = s.now().UTC()
	}

	if err := s.store.SaveCorrection(ctx, c); err != nil {
		return fmt.Errorf("save correction: %w", err)
	}

	for _, d := range deltasFor(c) {
		if _, err := s.prefs.Apply(ctx, c.UserID, d); err != nil {
			return fmt.Errorf("apply preference step: %w", err)
		}
	}

	s.logger.Debug("correction recorded",
		zap.String("user_id", c.UserID),
		zap.String("kind", string(c.Kind)),
		zap.String("dimension", string(c.Dimension)),
		zap.String("from", c.FromValue),
		zap.String("to", c.ToValue))
	return nil
}

// History returns the user's most recent corrections, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Correction, error) {
	if userID == "" {
		return nil, faults.Validationf("user_id", "must not be empty")
	}
	return s.store.ListCorrections(ctx, userID, time.Time{}, limit)
}

// ReinforceRoutine turns completion-hour dominance into time-of-day
// evidence: each hour holding at least RoutineShare of completions gets
// an acceptance-sized nudge scaled by its share. Returns the reinforced
// hour keys.
func (s *Service) ReinforceRoutine(ctx context.Context, userID string, shares map[int]float64) ([]string, error) {
	if userID == "" {
		return nil, faults.Validationf("user_id", "must not be empty")
	}

	hours := make([]int, 0, len(shares))
	for hour, share := range shares {
		if share >= RoutineShare {
			hours = append(hours, hour)
		}
	}
	sort.Ints(hours)

	var reinforced []string
	for _, hour := range hours {
		key := strconv.Itoa(hour)
		if _, err := s.prefs.Apply(ctx, userID, preference.Delta{
			Dimension:  preference.DimTimeOfDay,
			Key:        key,
			WeightStep: BaseStep * AcceptFactor * shares[hour],
			Agree:      true,
		}); err != nil {
			return nil, fmt.Errorf("reinforce hour %s: %w", key, err)
		}
		reinforced = append(reinforced, key)
	}
	return reinforced, nil
}

// Threshold returns the adaptive suggestion threshold for a correction
// kind, falling back to the default when never calibrated.
func (s *Service) Threshold(ctx context.Context, userID string, kind Kind) (float64, error) {
	cal, err := s.store.GetCalibration(ctx, userID, kind)
	if err != nil {
		return 0, fmt.Errorf("get calibration: %w", err)
	}
	if cal == nil {
		return DefaultThreshold, nil
	}
	return cal.Threshold, nil
}

// Calibrate runs the periodic pass over the rolling correction window:
// per-kind accuracy and threshold adjustment, drift reconciliation
// between incremental and window-recomputed weights, and confidence
// decay for keys with no samples in the window.
func (s *Service) Calibrate(ctx context.Context, userID string) (CalibrationReport, error) {
	if userID == "" {
		return CalibrationReport{}, faults.Validationf("user_id", "must not be empty")
	}

	now := s.now().UTC()
	since := now.Add(-CalibrationWindow)
	window, err := s.store.ListCorrections(ctx, userID, since, 0)
	if err != nil {
		return CalibrationReport{}, fmt.Errorf("list corrections: %w", err)
	}

	report := CalibrationReport{UserID: userID, Corrections: len(window), GeneratedAt: now}

	adjusted, err := s.calibrateThresholds(ctx, userID, window, now)
	if err != nil {
		return CalibrationReport{}, err
	}
	report.Adjusted = adjusted

	reconciled, err := s.reconcileDrift(ctx, userID, window)
	if err != nil {
		return CalibrationReport{}, err
	}
	report.Reconciled = reconciled

	decayed, err := s.decayStale(ctx, userID, since)
	if err != nil {
		return CalibrationReport{}, err
	}
	report.DecayedKeys = decayed

	s.logger.Info("calibration complete",
		zap.String("user_id", userID),
		zap.Int("corrections", report.Corrections),
		zap.Int("adjusted", len(report.Adjusted)),
		zap.Int("reconciled", len(report.Reconciled)),
		zap.Int("decayed", len(report.DecayedKeys)))
	return report, nil
}

// calibrateThresholds computes rolling per-kind accuracy. Acceptances
// count for every kind; each correction of a kind counts against it.
// High accuracy loosens the threshold (suggest more), low accuracy
// tightens it.
func (s *Service) calibrateThresholds(ctx context.Context, userID string, window []Correction, now time.Time) ([]Calibration, error) {
	accepted := 0
	perKind := make(map[Kind]int)
	for _, c := range window {
		if c.Kind == KindAcceptance {
			accepted++
			continue
		}
		perKind[c.Kind]++
	}

	var out []Calibration
	for _, kind := range []Kind{KindReschedule, KindDurationChange, KindRejection} {
		misses := perKind[kind]
		samples := accepted + misses
		if samples == 0 {
			continue
		}
		accuracy := float64(accepted) / float64(samples)

		prev, err := s.store.GetCalibration(ctx, userID, kind)
		if err != nil {
			return nil, fmt.Errorf("get calibration: %w", err)
		}
		threshold := DefaultThreshold
		if prev != nil {
			threshold = prev.Threshold
		}
		switch {
		case accuracy >= HighAccuracy:
			threshold = max(MinThreshold, threshold-ThresholdStep)
		case accuracy < LowAccuracy:
			threshold = min(MaxThreshold, threshold+ThresholdStep)
		}

		cal := Calibration{
			UserID:    userID,
			Kind:      kind,
			Threshold: threshold,
			Accuracy:  accuracy,
			Samples:   samples,
			UpdatedAt: now,
		}
		if err := s.store.UpsertCalibration(ctx, cal); err != nil {
			return nil, fmt.Errorf("upsert calibration: %w", err)
		}
		out = append(out, cal)
	}
	return out, nil
}

// reconcileDrift recomputes each touched key's agreement ratio over the
// window and, when the stored weight has drifted beyond DriftTolerance,
// nudges it back by one bounded step.
func (s *Service) reconcileDrift(ctx context.Context, userID string, window []Correction) ([]string, error) {
	type tally struct{ up, down int }
	tallies := make(map[preference.Dimension]map[string]*tally)
	bump := func(dim preference.Dimension, key string, up bool) {
		if key == "" {
			return
		}
		if tallies[dim] == nil {
			tallies[dim] = make(map[string]*tally)
		}
		t := tallies[dim][key]
		if t == nil {
			t = &tally{}
			tallies[dim][key] = t
		}
		if up {
			t.up++
		} else {
			t.down++
		}
	}
	for _, c := range window {
		for _, d := range deltasFor(c) {
			bump(c.Dimension, d.Key, d.WeightStep > 0)
		}
	}

	snap, err := s.prefs.Snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("snapshot preferences: %w", err)
	}

	var reconciled []string
	for dim, keys := range tallies {
		for key, t := range keys {
			total := t.up + t.down
			if total == 0 {
				continue
			}
			target := float64(t.up) / float64(total)

			stored := preference.NeutralWeight
			if p, ok := snap.Get(dim, key); ok {
				stored = p.Weight
			}
			drift := target - stored
			if drift > -DriftTolerance && drift < DriftTolerance {
				continue
			}

			step := drift
			if step > BaseStep {
				step = BaseStep
			} else if step < -BaseStep {
				step = -BaseStep
			}
			if _, err := s.prefs.Apply(ctx, userID, preference.Delta{
				Dimension:  dim,
				Key:        key,
				WeightStep: step,
				Agree:      step > 0,
			}); err != nil {
				return nil, fmt.Errorf("reconcile %s/%s: %w", dim, key, err)
			}
			reconciled = append(reconciled, string(dim)+"/"+key)
		}
	}
	sort.Strings(reconciled)
	return reconciled, nil
}

// decayStale lowers the confidence of keys with no samples inside the
// window so unused preferences fade instead of ossifying.
func (s *Service) decayStale(ctx context.Context, userID string, since time.Time) ([]string, error) {
	snap, err := s.prefs.Snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("snapshot preferences: %w", err)
	}

	var decayed []string
	for dim, prefs := range snap {
		for _, p := range prefs {
			if !p.UpdatedAt.Before(since) {
				continue
			}
			if _, err := s.prefs.Decay(ctx, userID, dim, p.Key, StaleDecayFactor); err != nil {
				return nil, fmt.Errorf("decay %s/%s: %w", dim, p.Key, err)
			}
			decayed = append(decayed, string(dim)+"/"+p.Key)
		}
	}
	sort.Strings(decayed)
	return decayed, nil
}

// deltasFor translates one correction into its preference steps. Every
// step magnitude is capped at BaseStep so no correction can move a
// weight more than that.
func deltasFor(c Correction) []preference.Delta {
	var out []preference.Delta
	switch c.Kind {
	case KindReschedule, KindDurationChange:
		if c.FromValue != "" {
			out = append(out, preference.Delta{
				Dimension:  c.Dimension,
				Key:        c.FromValue,
				WeightStep: -BaseStep,
				Agree:      false,
			})
		}
		if c.ToValue != "" {
			out = append(out, preference.Delta{
				Dimension:  c.Dimension,
				Key:        c.ToValue,
				WeightStep: BaseStep,
				Agree:      true,
			})
		}
	case KindRejection:
		key := c.FromValue
		if key == "" {
			key = c.ToValue
		}
		out = append(out, preference.Delta{
			Dimension:  c.Dimension,
			Key:        key,
			WeightStep: -BaseStep,
			Agree:      false,
		})
	case KindAcceptance:
		key := c.ToValue
		if key == "" {
			key = c.FromValue
		}
		out = append(out, preference.Delta{
			Dimension:  c.Dimension,
			Key:        key,
			WeightStep: BaseStep * AcceptFactor,
			Agree:      true,
		})
	}
	return out
}
