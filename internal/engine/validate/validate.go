// Package validate checks user-supplied item fields before they reach
// the store or the scheduling pipeline. All violations are reported as
// faults.ValidationError carrying the field name.
package validate

import (
	"strings"
	"time"
	"unicode"

	"github.com/fyrsmithlabs/plannerd/internal/engine/faults"
	"github.com/fyrsmithlabs/plannerd/internal/model"
)

const (
	// MaxTitleLen bounds item titles.
	MaxTitleLen = 500
	// MaxCategoryLen bounds category names.
	MaxCategoryLen = 50
	// MaxDuration bounds a single schedulable block.
	MaxDuration = 8 * time.Hour
)

// Priority levels, lowest to highest.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Title checks an item title: required, at most MaxTitleLen characters,
// and at least one letter or digit.
func Title(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return faults.Validationf("title", "must not be empty")
	}
	if len(title) > MaxTitleLen {
		return faults.Validationf("title", "too long: %d characters (max %d)", len(title), MaxTitleLen)
	}
	if !hasAlnum(title) {
		return faults.Validationf("title", "must contain at least one letter or number")
	}
	return nil
}

// Category checks a category name. Empty is allowed (uncategorized).
func Category(category string) error {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil
	}
	if len(category) > MaxCategoryLen {
		return faults.Validationf("category", "too long: %d characters (max %d)", len(category), MaxCategoryLen)
	}
	if !hasAlnum(category) {
		return faults.Validationf("category", "must contain at least one letter or number")
	}
	return nil
}

// Priority normalizes a priority string to one of the four levels.
// Near-misses are fuzzy-matched: "critical" maps to urgent, "normal"
// to medium. Unrecognized values are rejected.
func Priority(priority string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(priority))
	if p == "" {
		return "", faults.Validationf("priority", "must not be empty")
	}

	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, nil
	}

	// Fuzzy matching; urgent outranks high so "urgent-high" resolves up.
	switch {
	case strings.Contains(p, "urgent"), strings.Contains(p, "critical"):
		return PriorityUrgent, nil
	case strings.Contains(p, "high"):
		return PriorityHigh, nil
	case strings.Contains(p, "medium"), strings.Contains(p, "normal"):
		return PriorityMedium, nil
	case strings.Contains(p, "low"):
		return PriorityLow, nil
	}

	return "", faults.Validationf("priority", "unknown value %q (want low, medium, high, or urgent)", priority)
}

// Status checks an item status against the model's lifecycle values.
func Status(status string) error {
	switch status {
	case model.StatusPending, model.StatusInProgress, model.StatusCompleted, model.StatusCancelled:
		return nil
	}
	return faults.Validationf("status", "unknown value %q (want pending, in_progress, completed, or cancelled)", status)
}

// Duration checks a schedulable duration: positive and at most MaxDuration.
func Duration(d time.Duration) error {
	if d <= 0 {
		return faults.Validationf("duration", "must be positive, got %s", d)
	}
	if d > MaxDuration {
		return faults.Validationf("duration", "too long: %s (max %s)", d, MaxDuration)
	}
	return nil
}

// UserID checks that a user identifier is present.
func UserID(id string) error {
	if strings.TrimSpace(id) == "" {
		return faults.Validationf("user_id", "must not be empty")
	}
	return nil
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
