package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/plannerd/internal/learning"
)

// SaveCorrection appends one correction. Corrections are an append-only
// log; they are never updated or deleted.
func (s *SQLiteStore) SaveCorrection(ctx context.Context, c learning.Correction) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ObservedAt.IsZero() {
		c.ObservedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (
			id, user_id, item_id, kind, dimension, key,
			from_value, to_value, observed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.ItemID, string(c.Kind), string(c.Dimension), c.Key,
		c.FromValue, c.ToValue, c.ObservedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving correction: %w", err)
	}
	return nil
}

// ListCorrections returns a user's corrections observed at or after
// since, newest first. limit <= 0 means no limit.
func (s *SQLiteStore) ListCorrections(ctx context.Context, userID string, since time.Time, limit int) ([]learning.Correction, error) {
	query := `
		SELECT id, user_id, item_id, kind, dimension, key,
			from_value, to_value, observed_at
		FROM corrections
		WHERE user_id = ? AND observed_at >= ?
		ORDER BY observed_at DESC, id`
	args := []interface{}{userID, since.UTC()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing corrections: %w", err)
	}
	defer rows.Close()

	var out []learning.Correction
	for rows.Next() {
		var c learning.Correction
		err := rows.Scan(&c.ID, &c.UserID, &c.ItemID, &c.Kind, &c.Dimension, &c.Key,
			&c.FromValue, &c.ToValue, &c.ObservedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning correction: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCalibration returns the stored calibration for (user, kind), or
// nil when none exists yet.
func (s *SQLiteStore) GetCalibration(ctx context.Context, userID string, kind learning.Kind) (*learning.Calibration, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT user_id, kind, threshold, accuracy, samples, updated_at
		FROM calibrations WHERE user_id = ? AND kind = ?`,
		userID, string(kind))

	var c learning.Calibration
	err := row.Scan(&c.UserID, &c.Kind, &c.Threshold, &c.Accuracy, &c.Samples, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting calibration %s/%s: %w", userID, kind, err)
	}
	return &c, nil
}

// UpsertCalibration writes a calibration row.
func (s *SQLiteStore) UpsertCalibration(ctx context.Context, c learning.Calibration) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO calibrations (
			user_id, kind, threshold, accuracy, samples, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		c.UserID, string(c.Kind), c.Threshold, c.Accuracy, c.Samples, c.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting calibration %s/%s: %w", c.UserID, c.Kind, err)
	}
	return nil
}
