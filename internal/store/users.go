package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/plannerd/internal/model"
)

// UpsertUser inserts or updates a user. Zero working hours and an
// empty timezone fall back to the planner defaults.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u *model.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id must not be empty")
	}
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	if u.WorkEndHour == 0 {
		u.WorkStartHour = 8
		u.WorkEndHour = 20
	}
	if u.WeekendEndHour == 0 {
		u.WeekendStartHour = 9
		u.WeekendEndHour = 18
	}

	now := time.Now().UTC()
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		u.CreatedAt = existing.CreatedAt
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO users (
			id, display_name, timezone,
			work_start_hour, work_end_hour, weekend_start_hour, weekend_end_hour,
			active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.DisplayName, u.Timezone,
		u.WorkStartHour, u.WorkEndHour, u.WeekendStartHour, u.WeekendEndHour,
		boolToInt(u.Active), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser returns a user by id, or nil when absent.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, display_name, timezone,
			work_start_hour, work_end_hour, weekend_start_hour, weekend_end_hour,
			active, created_at, updated_at
		FROM users WHERE id = ?`, id)

	var (
		u      model.User
		active int
	)
	err := row.Scan(&u.ID, &u.DisplayName, &u.Timezone,
		&u.WorkStartHour, &u.WorkEndHour, &u.WeekendStartHour, &u.WeekendEndHour,
		&active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	u.Active = active == 1
	return &u, nil
}

// ListActiveUsers returns every active user, ordered by id. The
// scheduler iterates this set for its periodic jobs.
func (s *SQLiteStore) ListActiveUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, display_name, timezone,
			work_start_hour, work_end_hour, weekend_start_hour, weekend_end_hour,
			active, created_at, updated_at
		FROM users WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing active users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var (
			u      model.User
			active int
		)
		err := rows.Scan(&u.ID, &u.DisplayName, &u.Timezone,
			&u.WorkStartHour, &u.WorkEndHour, &u.WeekendStartHour, &u.WeekendEndHour,
			&active, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.Active = active == 1
		users = append(users, u)
	}
	return users, rows.Err()
}
