package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fyrsmithlabs/plannerd/internal/availability"
	"github.com/fyrsmithlabs/plannerd/internal/engine/validate"
	"github.com/fyrsmithlabs/plannerd/internal/model"
	"github.com/fyrsmithlabs/plannerd/internal/pattern"
)

const itemColumns = `id, user_id, title, description, category, priority, status,
		due_at, scheduled_start, scheduled_end, duration_minutes,
		completed_at, created_at, updated_at`

// CreateItem inserts a new item. Generates a UUID if ID is empty.
func (s *SQLiteStore) CreateItem(ctx context.Context, item *model.Item) error {
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("item title must not be empty")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = model.StatusPending
	}
	if item.Priority == "" {
		item.Priority = validate.PriorityMedium
	}
	if item.DurationMinutes <= 0 {
		item.DurationMinutes = 30
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.UserID, item.Title, item.Description, item.Category,
		item.Priority, item.Status,
		item.DueAt, item.ScheduledStart, item.ScheduledEnd, item.DurationMinutes,
		item.CompletedAt, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating item: %w", err)
	}
	return nil
}

// UpdateItem rewrites an existing item. completed_at follows the
// status: set on completion, cleared when the item reopens.
func (s *SQLiteStore) UpdateItem(ctx context.Context, item *model.Item) error {
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("item title must not be empty")
	}
	now := time.Now().UTC()
	item.UpdatedAt = now
	if item.Status == model.StatusCompleted && item.CompletedAt == nil {
		item.CompletedAt = &now
	} else if item.Status == model.StatusPending || item.Status == model.StatusInProgress {
		item.CompletedAt = nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE items SET
			title = ?, description = ?, category = ?, priority = ?, status = ?,
			due_at = ?, scheduled_start = ?, scheduled_end = ?, duration_minutes = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ?`,
		item.Title, item.Description, item.Category, item.Priority, item.Status,
		item.DueAt, item.ScheduledStart, item.ScheduledEnd, item.DurationMinutes,
		item.CompletedAt, item.UpdatedAt,
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("updating item %s: %w", item.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("item %s not found", item.ID)
	}
	return nil
}

// GetItem returns an item by id, or nil when absent.
func (s *SQLiteStore) GetItem(ctx context.Context, itemID string) (*model.Item, error) {
	row := s.db.QueryRowxContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, itemID)
	item, err := scanItemRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item %s: %w", itemID, err)
	}
	return item, nil
}

// ListItems returns a user's non-cancelled items, oldest first.
func (s *SQLiteStore) ListItems(ctx context.Context, userID string) ([]model.Item, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE user_id = ? AND status != 'cancelled'
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// AdoptEventTimes rewrites an item's scheduled window from the
// calendar side, recomputing the duration to match.
func (s *SQLiteStore) AdoptEventTimes(ctx context.Context, itemID string, start, end time.Time) error {
	minutes := int(end.Sub(start).Minutes())
	if minutes <= 0 {
		return fmt.Errorf("event window must end after it starts")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE items SET scheduled_start = ?, scheduled_end = ?,
			duration_minutes = ?, updated_at = ?
		WHERE id = ?`,
		start.UTC(), end.UTC(), minutes, time.Now().UTC(), itemID,
	)
	if err != nil {
		return fmt.Errorf("adopting event times for item %s: %w", itemID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("item %s not found", itemID)
	}
	return nil
}

// ListBusy returns the scheduled windows of a user's open items that
// overlap [from, to), ordered by start. This is the busy input for
// slot finding.
func (s *SQLiteStore) ListBusy(ctx context.Context, userID string, from, to time.Time) ([]availability.Interval, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT scheduled_start, scheduled_end FROM items
		WHERE user_id = ? AND status IN ('pending', 'in_progress')
			AND scheduled_start IS NOT NULL AND scheduled_end IS NOT NULL
			AND scheduled_start < ? AND scheduled_end > ?
		ORDER BY scheduled_start`,
		userID, to.UTC(), from.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing busy intervals: %w", err)
	}
	defer rows.Close()

	var busy []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("scanning busy interval: %w", err)
		}
		busy = append(busy, iv)
	}
	return busy, rows.Err()
}

// ListOccurrences returns scheduling history for the pattern scan:
// every non-cancelled item scheduled at or after since, oldest first.
func (s *SQLiteStore) ListOccurrences(ctx context.Context, userID string, since time.Time) ([]pattern.Occurrence, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT user_id, title, category, scheduled_start, duration_minutes, status
		FROM items
		WHERE user_id = ? AND status != 'cancelled'
			AND scheduled_start IS NOT NULL AND scheduled_start >= ?
		ORDER BY scheduled_start`,
		userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing occurrences: %w", err)
	}
	defer rows.Close()

	var out []pattern.Occurrence
	for rows.Next() {
		var (
			o      pattern.Occurrence
			status string
		)
		err := rows.Scan(&o.UserID, &o.Title, &o.Category, &o.StartedAt,
			&o.DurationMinutes, &status)
		if err != nil {
			return nil, fmt.Errorf("scanning occurrence: %w", err)
		}
		o.Completed = status == model.StatusCompleted
		out = append(out, o)
	}
	return out, rows.Err()
}

func collectItems(rows *sqlx.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanItem(rows *sqlx.Rows) (*model.Item, error) {
	var (
		item              model.Item
		dueAt, start, end *time.Time
		completedAt       *time.Time
	)
	err := rows.Scan(&item.ID, &item.UserID, &item.Title, &item.Description,
		&item.Category, &item.Priority, &item.Status,
		&dueAt, &start, &end, &item.DurationMinutes,
		&completedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.DueAt = dueAt
	item.ScheduledStart = start
	item.ScheduledEnd = end
	item.CompletedAt = completedAt
	return &item, nil
}

func scanItemRow(row *sqlx.Row) (*model.Item, error) {
	var (
		item              model.Item
		dueAt, start, end *time.Time
		completedAt       *time.Time
	)
	err := row.Scan(&item.ID, &item.UserID, &item.Title, &item.Description,
		&item.Category, &item.Priority, &item.Status,
		&dueAt, &start, &end, &item.DurationMinutes,
		&completedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.DueAt = dueAt
	item.ScheduledStart = start
	item.ScheduledEnd = end
	item.CompletedAt = completedAt
	return &item, nil
}
