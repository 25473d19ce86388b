// Package model holds the core persisted entities shared by the store
// and the scheduling services.
package model

import "time"

// Item status constants.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// User is an account the engine learns preferences for. Work hours bound
// the scheduling window; weekend hours apply on Saturday and Sunday.
type User struct {
	ID               string    `json:"id" db:"id"`
	DisplayName      string    `json:"display_name" db:"display_name"`
	Timezone         string    `json:"timezone" db:"timezone"`
	WorkStartHour    int       `json:"work_start_hour" db:"work_start_hour"`
	WorkEndHour      int       `json:"work_end_hour" db:"work_end_hour"`
	WeekendStartHour int       `json:"weekend_start_hour" db:"weekend_start_hour"`
	WeekendEndHour   int       `json:"weekend_end_hour" db:"weekend_end_hour"`
	Active           bool      `json:"active" db:"active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Item is a schedulable unit of work.
type Item struct {
	ID              string     `json:"id" db:"id"`
	UserID          string     `json:"user_id" db:"user_id"`
	Title           string     `json:"title" db:"title"`
	Description     string     `json:"description" db:"description"`
	Category        string     `json:"category" db:"category"`
	Priority        string     `json:"priority" db:"priority"`
	Status          string     `json:"status" db:"status"`
	DueAt           *time.Time `json:"due_at,omitempty" db:"due_at"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty" db:"scheduled_start"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty" db:"scheduled_end"`
	DurationMinutes int        `json:"duration_minutes" db:"duration_minutes"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Duration returns the item's duration as a time.Duration.
func (i Item) Duration() time.Duration {
	return time.Duration(i.DurationMinutes) * time.Minute
}

// Scheduled reports whether the item has a concrete scheduled start.
func (i Item) Scheduled() bool {
	return i.ScheduledStart != nil
}

// Completed reports whether the item reached the completed status.
func (i Item) Completed() bool {
	return i.Status == StatusCompleted
}
