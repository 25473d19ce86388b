// Package preference maintains per-user scheduling preferences.
//
// Each preference is keyed (dimension, key) and carries a weight — the
// relative desirability of that option inside its dimension — plus a
// confidence derived from a Beta distribution over agree/contradict
// evidence. Missing preferences read as the neutral prior rather than
// an error, so callers never branch on absence.
package preference

import "time"

// Dimension identifies what aspect of scheduling a preference describes.
type Dimension string

const (
	// DimTimeOfDay keys are hour buckets ("9", "14").
	DimTimeOfDay Dimension = "time_of_day"
	// DimDayOfWeek keys are weekday names ("monday").
	DimDayOfWeek Dimension = "day_of_week"
	// DimDuration keys are duration classes ("short", "medium", "long").
	DimDuration Dimension = "duration"
	// DimBuffer keys are gap lengths between items ("15m", "30m").
	DimBuffer Dimension = "buffer"
	// DimCategoryTime keys are "category@hour" pairs ("health@7").
	DimCategoryTime Dimension = "category_time"
)

const (
	// NeutralWeight is the prior weight for an unobserved key.
	NeutralWeight = 0.5
	// NeutralConfidence is the Beta mean at the uniform 1:1 prior.
	NeutralConfidence = 0.5
	// NeutralBias is NeutralWeight × NeutralConfidence.
	NeutralBias = 0.25
	// DefaultMaxStep bounds how far one update may move a weight.
	DefaultMaxStep = 0.1
)

// Preference is one learned (dimension, key) estimate for a user.
// Alpha and Beta are the accumulated agree/contradict evidence;
// Confidence is their Beta mean alpha/(alpha+beta).
type Preference struct {
	UserID      string    `json:"user_id" db:"user_id"`
	Dimension   Dimension `json:"dimension" db:"dimension"`
	Key         string    `json:"key" db:"key"`
	Weight      float64   `json:"weight" db:"weight"`
	Confidence  float64   `json:"confidence" db:"confidence"`
	Alpha       float64   `json:"-" db:"alpha"`
	Beta        float64   `json:"-" db:"beta"`
	SampleCount int       `json:"sample_count" db:"sample_count"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Neutral returns the prior preference for an unobserved (dimension, key).
func Neutral(userID string, dim Dimension, key string) Preference {
	return Preference{
		UserID:     userID,
		Dimension:  dim,
		Key:        key,
		Weight:     NeutralWeight,
		Confidence: NeutralConfidence,
		Alpha:      1,
		Beta:       1,
	}
}

// Bias is the scheduling pull of this preference: weight × confidence.
// A strong weight the model is unsure about contributes little.
func (p Preference) Bias() float64 {
	return p.Weight * p.Confidence
}

// Snapshot is a read-only view of a user's preferences, grouped by
// dimension. Used by the availability resolver and the flow manager.
type Snapshot map[Dimension][]Preference

// Bias looks up the bias for (dim, key), returning NeutralBias when the
// key has never been observed.
func (s Snapshot) Bias(dim Dimension, key string) float64 {
	for _, p := range s[dim] {
		if p.Key == key {
			return p.Bias()
		}
	}
	return NeutralBias
}

// Get returns the stored preference for (dim, key) and whether it exists.
func (s Snapshot) Get(dim Dimension, key string) (Preference, bool) {
	for _, p := range s[dim] {
		if p.Key == key {
			return p, true
		}
	}
	return Preference{}, false
}

// Duration class cut points, in minutes.
const (
	shortMaxMinutes = 30
	longMinMinutes  = 120
)

// DurationClass buckets a length in minutes into a DimDuration key.
func DurationClass(minutes int) string {
	switch {
	case minutes <= shortMaxMinutes:
		return "short"
	case minutes >= longMinMinutes:
		return "long"
	default:
		return "medium"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
