package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/plannerd/internal/preference"
)

// GetPreference returns the stored preference for (user, dimension,
// key), or nil when the triple has never been written.
func (s *SQLiteStore) GetPreference(ctx context.Context, userID string, dim preference.Dimension, key string) (*preference.Preference, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT user_id, dimension, key, weight, confidence,
			alpha, beta, sample_count, updated_at
		FROM preferences
		WHERE user_id = ? AND dimension = ? AND key = ?`,
		userID, string(dim), key)

	var p preference.Preference
	err := row.Scan(&p.UserID, &p.Dimension, &p.Key, &p.Weight, &p.Confidence,
		&p.Alpha, &p.Beta, &p.SampleCount, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting preference %s/%s/%s: %w", userID, dim, key, err)
	}
	return &p, nil
}

// UpsertPreference inserts or replaces a preference row.
func (s *SQLiteStore) UpsertPreference(ctx context.Context, p preference.Preference) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO preferences (
			user_id, dimension, key, weight, confidence,
			alpha, beta, sample_count, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, string(p.Dimension), p.Key, p.Weight, p.Confidence,
		p.Alpha, p.Beta, p.SampleCount, p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting preference %s/%s/%s: %w", p.UserID, p.Dimension, p.Key, err)
	}
	return nil
}

// ListPreferences returns all of a user's preferences ordered by
// dimension then key.
func (s *SQLiteStore) ListPreferences(ctx context.Context, userID string) ([]preference.Preference, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT user_id, dimension, key, weight, confidence,
			alpha, beta, sample_count, updated_at
		FROM preferences
		WHERE user_id = ?
		ORDER BY dimension, key`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing preferences: %w", err)
	}
	defer rows.Close()

	var prefs []preference.Preference
	for rows.Next() {
		var p preference.Preference
		err := rows.Scan(&p.UserID, &p.Dimension, &p.Key, &p.Weight, &p.Confidence,
			&p.Alpha, &p.Beta, &p.SampleCount, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning preference: %w", err)
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}
