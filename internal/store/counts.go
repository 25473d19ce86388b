package store

import (
	"context"
	"fmt"
)

// Counts summarizes stored resources for the operator status endpoint.
type Counts struct {
	Users int `json:"users"`
	Items int `json:"items"`
	Flows int `json:"flows"`
	Links int `json:"links"`
}

// Counts returns row counts across the planner's main tables.
func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM items),
			(SELECT COUNT(*) FROM flows),
			(SELECT COUNT(*) FROM links)`)
	if err := row.Scan(&c.Users, &c.Items, &c.Flows, &c.Links); err != nil {
		return Counts{}, fmt.Errorf("counting rows: %w", err)
	}
	return c, nil
}
