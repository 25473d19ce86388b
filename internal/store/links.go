package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fyrsmithlabs/plannerd/internal/syncrec"
)

const linkColumns = `item_id, user_id, event_id, state,
		event_start, event_end, last_synced_at, created_at, updated_at`

// GetLink returns the link for an item, or nil when absent.
func (s *SQLiteStore) GetLink(ctx context.Context, itemID string) (*syncrec.Link, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE item_id = ?`, itemID)
	if err != nil {
		return nil, fmt.Errorf("getting link for item %s: %w", itemID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	l, err := scanLink(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning link: %w", err)
	}
	return l, nil
}

// ListLinks returns all links for a user, ordered by item id.
func (s *SQLiteStore) ListLinks(ctx context.Context, userID string) ([]syncrec.Link, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE user_id = ? ORDER BY item_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	defer rows.Close()

	var links []syncrec.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

// SaveLink inserts or updates a link.
func (s *SQLiteStore) SaveLink(ctx context.Context, l *syncrec.Link) error {
	if l.ItemID == "" {
		return fmt.Errorf("link item id must not be empty")
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO links (`+linkColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ItemID, l.UserID, l.EventID, string(l.State),
		nullTime(l.EventStart), nullTime(l.EventEnd), nullTime(l.LastSyncedAt),
		l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving link for item %s: %w", l.ItemID, err)
	}
	return nil
}

// DeleteLink removes an item's link. Missing links are not an error.
func (s *SQLiteStore) DeleteLink(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM links WHERE item_id = ?", itemID)
	if err != nil {
		return fmt.Errorf("deleting link for item %s: %w", itemID, err)
	}
	return nil
}

func scanLink(rows *sqlx.Rows) (*syncrec.Link, error) {
	var (
		l                            syncrec.Link
		eventStart, eventEnd, synced *time.Time
	)
	err := rows.Scan(&l.ItemID, &l.UserID, &l.EventID, &l.State,
		&eventStart, &eventEnd, &synced, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if eventStart != nil {
		l.EventStart = *eventStart
	}
	if eventEnd != nil {
		l.EventEnd = *eventEnd
	}
	if synced != nil {
		l.LastSyncedAt = *synced
	}
	return &l, nil
}

// SyncLogEntry is one line of reconciliation history.
type SyncLogEntry struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Kind      string    `json:"kind" db:"kind"`
	ItemID    string    `json:"item_id" db:"item_id"`
	EventID   string    `json:"event_id" db:"event_id"`
	Detail    string    `json:"detail" db:"detail"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AppendSyncLog records one reconciliation outcome.
func (s *SQLiteStore) AppendSyncLog(ctx context.Context, e SyncLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_log (id, user_id, kind, item_id, event_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Kind, e.ItemID, e.EventID, e.Detail, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending sync log: %w", err)
	}
	return nil
}

// ListSyncLog returns a user's reconciliation history, newest first.
// limit <= 0 means no limit.
func (s *SQLiteStore) ListSyncLog(ctx context.Context, userID string, limit int) ([]SyncLogEntry, error) {
	query := `
		SELECT id, user_id, kind, item_id, event_id, detail, created_at
		FROM sync_log
		WHERE user_id = ?
		ORDER BY created_at DESC, id`
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sync log: %w", err)
	}
	defer rows.Close()

	var out []SyncLogEntry
	for rows.Next() {
		var e SyncLogEntry
		err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.ItemID, &e.EventID, &e.Detail, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning sync log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
