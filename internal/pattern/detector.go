package pattern

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/engine/faults"
)

// Rejection records that a user dismissed a suggestion for a signature.
// Permanent rejections come from the three-strikes flow rule and keep
// the signature damped no matter how much new evidence arrives.
type Rejection struct {
	UserID     string       `json:"user_id" db:"user_id"`
	TitleKey   string       `json:"title_key" db:"title_key"`
	Category   string       `json:"category" db:"category"`
	Weekday    time.Weekday `json:"weekday" db:"weekday"`
	HourBucket int          `json:"hour_bucket" db:"hour_bucket"`
	Count      int          `json:"count" db:"count"`
	Permanent  bool         `json:"permanent" db:"permanent"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}

// Signature reassembles the rejected signature.
func (r Rejection) Signature() Signature {
	return Signature{
		TitleKey:   r.TitleKey,
		Category:   r.Category,
		Weekday:    r.Weekday,
		HourBucket: r.HourBucket,
	}
}

// RejectionStore is the persistence the detector needs.
type RejectionStore interface {
	// ListRejections returns all rejection records for a user.
	ListRejections(ctx context.Context, userID string) ([]Rejection, error)

	// UpsertRejection inserts or increments a rejection record.
	UpsertRejection(ctx context.Context, r Rejection) error
}

// Detector groups history into recurring-behavior candidates.
type Detector struct {
	rejections    RejectionStore
	logger        *zap.Logger
	maxCandidates int
}

// NewDetector creates a detector backed by the given rejection store.
func NewDetector(rejections RejectionStore, logger *zap.Logger) (*Detector, error) {
	if rejections == nil {
		return nil, fmt.Errorf("rejection store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		rejections:    rejections,
		logger:        logger,
		maxCandidates: DefaultMaxCandidates,
	}, nil
}

// Scan groups the user's history by signature and scores each group.
// Returns at most DefaultMaxCandidates candidates ordered by occurrence
// count, then confidence. An empty history yields an empty slice and no
// error.
func (d *Detector) Scan(ctx context.Context, userID string, history []Occurrence, now time.Time) ([]Candidate, error) {
	if userID == "" {
		return nil, faults.Validationf("user_id", "must not be empty")
	}

	groups := make(map[Signature][]Occurrence)
	for _, o := range history {
		if o.UserID != userID {
			continue
		}
		sig := SignatureOf(o)
		if sig.TitleKey == "" {
			continue
		}
		groups[sig] = append(groups[sig], o)
	}

	rejected, err := d.rejectionIndex(ctx, userID)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(groups))
	for sig, occs := range groups {
		if len(occs) < MinOccurrences {
			continue
		}
		c := score(sig, occs, now)
		if rej, ok := rejected[sig.String()]; ok {
			c.Confidence *= DampingFactor
			c.Damped = true
			c.PermanentlyDamped = rej.Permanent
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Count != candidates[j].Count {
			return candidates[i].Count > candidates[j].Count
		}
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].String() < candidates[j].String()
	})
	if len(candidates) > d.maxCandidates {
		candidates = candidates[:d.maxCandidates]
	}

	d.logger.Debug("pattern scan complete",
		zap.String("user_id", userID),
		zap.Int("history", len(history)),
		zap.Int("groups", len(groups)),
		zap.Int("candidates", len(candidates)))

	return candidates, nil
}

// RecordRejection notes that the user dismissed a suggestion for sig, so
// future scans damp it. Permanent marks the three-strikes case.
func (d *Detector) RecordRejection(ctx context.Context, userID string, sig Signature, permanent bool) error {
	if userID == "" {
		return faults.Validationf("user_id", "must not be empty")
	}
	return d.rejections.UpsertRejection(ctx, Rejection{
		UserID:     userID,
		TitleKey:   sig.TitleKey,
		Category:   sig.Category,
		Weekday:    sig.Weekday,
		HourBucket: sig.HourBucket,
		Count:      1,
		Permanent:  permanent,
	})
}

func (d *Detector) rejectionIndex(ctx context.Context, userID string) (map[string]Rejection, error) {
	list, err := d.rejections.ListRejections(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list rejections: %w", err)
	}
	idx := make(map[string]Rejection, len(list))
	for _, r := range list {
		idx[r.Signature().String()] = r
	}
	return idx, nil
}

// score computes the confidence of one signature group. Caller
// guarantees len(occs) >= MinOccurrences.
func score(sig Signature, occs []Occurrence, now time.Time) Candidate {
	sorted := make([]Occurrence, len(occs))
	copy(sorted, occs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartedAt.Before(sorted[j].StartedAt)
	})

	intervals := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		intervals = append(intervals, sorted[i].StartedAt.Sub(sorted[i-1].StartedAt).Hours()/24)
	}
	avg := mean(intervals)

	frequency := math.Min(1, float64(len(sorted))/FreqSaturation)
	consistency := 1.0
	if avg > 0 {
		consistency = 1 - math.Min(1, meanAbsDeviation(intervals, avg)/avg)
	}
	recency := recencyScore(now.Sub(sorted[len(sorted)-1].StartedAt).Hours()/24, avg)

	durTotal := 0
	for _, o := range sorted {
		durTotal += o.DurationMinutes
	}

	last := sorted[len(sorted)-1].StartedAt
	return Candidate{
		Signature:          sig,
		Count:              len(sorted),
		FirstSeen:          sorted[0].StartedAt,
		LastSeen:           last,
		AvgIntervalDays:    avg,
		Confidence:         frequency * consistency * recency,
		NextExpected:       last.Add(time.Duration(avg * 24 * float64(time.Hour))),
		SampleTitle:        sorted[len(sorted)-1].Title,
		AvgDurationMinutes: durTotal / len(sorted),
	}
}

// recencyScore is 1 while the gap since the last occurrence stays within
// twice the average interval, then decays exponentially with the same
// scale. A zero average interval (same-day duplicates) never penalizes.
func recencyScore(ageDays, avgIntervalDays float64) float64 {
	if avgIntervalDays <= 0 {
		return 1
	}
	grace := 2 * avgIntervalDays
	if ageDays <= grace {
		return 1
	}
	return math.Exp(-(ageDays - grace) / grace)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func meanAbsDeviation(xs []float64, avg float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += math.Abs(x - avg)
	}
	return sum / float64(len(xs))
}
