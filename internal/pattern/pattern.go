// Package pattern scans item history for recurring behavior.
//
// Occurrences are grouped by a normalized signature (title key, category,
// weekday, hour bucket). A group becomes a candidate once it has at least
// two occurrences; candidate confidence is the product of frequency,
// consistency, and recency sub-scores, each in [0,1]. Signatures the user
// has rejected before are damped so they are not re-suggested immediately.
package pattern

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MinOccurrences is the floor below which a group never becomes a
	// candidate.
	MinOccurrences = 2

	// FreqSaturation is the occurrence count at which the frequency
	// sub-score reaches 1. Three perfectly regular weekly occurrences
	// score 0.75 and cross the suggestion threshold.
	FreqSaturation = 4

	// DampingFactor halves the confidence of previously rejected
	// signatures.
	DampingFactor = 0.5

	// DefaultMaxCandidates caps a single scan's result.
	DefaultMaxCandidates = 20

	// MinHourShare is the share of completions an hour bucket needs
	// before it counts as time-of-day preference evidence.
	MinHourShare = 0.3

	// titleKeyWords is how many leading words identify a title.
	titleKeyWords = 3
)

// Occurrence is one historical scheduling or completion event.
type Occurrence struct {
	UserID          string
	Title           string
	Category        string
	StartedAt       time.Time
	DurationMinutes int
	Completed       bool
}

// Signature identifies a recurring behavior: same normalized title,
// same category, same weekday-and-hour bucket.
type Signature struct {
	TitleKey   string       `json:"title_key" db:"title_key"`
	Category   string       `json:"category" db:"category"`
	Weekday    time.Weekday `json:"weekday" db:"weekday"`
	HourBucket int          `json:"hour_bucket" db:"hour_bucket"`
}

// String renders a stable signature key, usable for map keys and logs.
func (s Signature) String() string {
	return fmt.Sprintf("%s|%s|%d@%02d", s.TitleKey, s.Category, s.Weekday, s.HourBucket)
}

// SignatureOf derives the signature of a single occurrence.
func SignatureOf(o Occurrence) Signature {
	return Signature{
		TitleKey:   TitleKey(o.Title),
		Category:   strings.ToLower(strings.TrimSpace(o.Category)),
		Weekday:    o.StartedAt.Weekday(),
		HourBucket: o.StartedAt.Hour(),
	}
}

// TitleKey normalizes a title to its lowercased first three words.
// "Weekly Review: Q3 goals" and "weekly review  q3" group together.
func TitleKey(title string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(title)))
	if len(words) > titleKeyWords {
		words = words[:titleKeyWords]
	}
	return strings.Join(words, " ")
}

// Candidate is one detected recurring behavior with its evidence.
type Candidate struct {
	Signature
	Count              int       `json:"count"`
	FirstSeen          time.Time `json:"first_seen"`
	LastSeen           time.Time `json:"last_seen"`
	AvgIntervalDays    float64   `json:"avg_interval_days"`
	Confidence         float64   `json:"confidence"`
	NextExpected       time.Time `json:"next_expected"`
	SampleTitle        string    `json:"sample_title"`
	AvgDurationMinutes int       `json:"avg_duration_minutes"`
	Damped             bool      `json:"damped"`
	PermanentlyDamped  bool      `json:"permanently_damped"`
}

// HourHistogram returns each hour bucket's share of completed
// occurrences. Buckets at or above MinHourShare are strong time-of-day
// evidence for the correction learner.
func HourHistogram(history []Occurrence) map[int]float64 {
	counts := make(map[int]int)
	total := 0
	for _, o := range history {
		if !o.Completed {
			continue
		}
		counts[o.StartedAt.Hour()]++
		total++
	}
	if total == 0 {
		return map[int]float64{}
	}

	shares := make(map[int]float64, len(counts))
	for hour, n := range counts {
		shares[hour] = float64(n) / float64(total)
	}
	return shares
}
