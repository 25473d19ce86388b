package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/plannerd/internal/pattern"
)

// ListRejections returns all rejection records for a user.
func (s *SQLiteStore) ListRejections(ctx context.Context, userID string) ([]pattern.Rejection, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT user_id, title_key, category, weekday, hour_bucket,
			count, permanent, updated_at
		FROM pattern_rejections
		WHERE user_id = ?
		ORDER BY title_key, category, weekday, hour_bucket`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing rejections: %w", err)
	}
	defer rows.Close()

	var out []pattern.Rejection
	for rows.Next() {
		var (
			r         pattern.Rejection
			permanent int
		)
		err := rows.Scan(&r.UserID, &r.TitleKey, &r.Category, &r.Weekday, &r.HourBucket,
			&r.Count, &permanent, &r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning rejection: %w", err)
		}
		r.Permanent = permanent == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertRejection inserts a record or increments the existing count.
// Permanence is sticky: once set it survives later non-permanent
// upserts.
func (s *SQLiteStore) UpsertRejection(ctx context.Context, r pattern.Rejection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pattern_rejections (
			user_id, title_key, category, weekday, hour_bucket,
			count, permanent, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, title_key, category, weekday, hour_bucket) DO UPDATE SET
			count      = count + excluded.count,
			permanent  = MAX(permanent, excluded.permanent),
			updated_at = excluded.updated_at`,
		r.UserID, r.TitleKey, r.Category, int(r.Weekday), r.HourBucket,
		r.Count, boolToInt(r.Permanent), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting rejection: %w", err)
	}
	return nil
}
