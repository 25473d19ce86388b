package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fyrsmithlabs/plannerd/internal/flow"
	"github.com/fyrsmithlabs/plannerd/internal/pattern"
)

const flowColumns = `id, user_id, title_key, category, weekday, hour_bucket,
		state, confidence, config, consecutive_rejections,
		suggested_at, decided_at, last_triggered, created_at, updated_at`

// SaveFlow inserts or updates a flow and rewrites its run window in
// one transaction.
func (s *SQLiteStore) SaveFlow(ctx context.Context, f *flow.Flow) error {
	if f.ID == "" {
		return fmt.Errorf("flow id must not be empty")
	}
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	cfgJSON, err := json.Marshal(f.Config)
	if err != nil {
		return fmt.Errorf("encoding flow config: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO flows (`+flowColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.Signature.TitleKey, f.Signature.Category,
		int(f.Signature.Weekday), f.Signature.HourBucket,
		string(f.State), f.Confidence, string(cfgJSON), f.ConsecutiveRejections,
		f.SuggestedAt, f.DecidedAt, f.LastTriggered, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving flow %s: %w", f.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM flow_runs WHERE flow_id = ?", f.ID); err != nil {
		return fmt.Errorf("clearing flow runs: %w", err)
	}
	if len(f.RecentRuns) > 0 {
		stmt, err := tx.PreparexContext(ctx,
			"INSERT OR REPLACE INTO flow_runs (flow_id, run_at, edited, title, duration_minutes) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("preparing flow run insert: %w", err)
		}
		defer stmt.Close()
		for _, r := range f.RecentRuns {
			if _, err := stmt.ExecContext(ctx, f.ID, r.RunAt.UTC(), boolToInt(r.Edited), r.Title, r.DurationMinutes); err != nil {
				return fmt.Errorf("saving flow run: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing flow save: %w", err)
	}
	return nil
}

// GetFlow returns a flow by id, or nil when absent.
func (s *SQLiteStore) GetFlow(ctx context.Context, id string) (*flow.Flow, error) {
	flows, err := s.queryFlows(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("getting flow %s: %w", id, err)
	}
	if len(flows) == 0 {
		return nil, nil
	}
	return &flows[0], nil
}

// GetFlowBySignature returns the user's flow for a signature, or nil
// when absent.
func (s *SQLiteStore) GetFlowBySignature(ctx context.Context, userID string, sig pattern.Signature) (*flow.Flow, error) {
	flows, err := s.queryFlows(ctx, `
		SELECT `+flowColumns+` FROM flows
		WHERE user_id = ? AND title_key = ? AND category = ?
			AND weekday = ? AND hour_bucket = ?`,
		userID, sig.TitleKey, sig.Category, int(sig.Weekday), sig.HourBucket)
	if err != nil {
		return nil, fmt.Errorf("getting flow by signature: %w", err)
	}
	if len(flows) == 0 {
		return nil, nil
	}
	return &flows[0], nil
}

// ListFlows returns a user's flows, optionally filtered by state.
func (s *SQLiteStore) ListFlows(ctx context.Context, userID string, states ...flow.State) ([]flow.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE user_id = ?`
	args := []interface{}{userID}
	if len(states) > 0 {
		placeholders := make([]string, len(states))
		for i, st := range states {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND state IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY created_at, id"

	flows, err := s.queryFlows(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing flows: %w", err)
	}
	return flows, nil
}

// ListActiveFlows returns ACTIVE flows across all users, for the
// trigger job.
func (s *SQLiteStore) ListActiveFlows(ctx context.Context) ([]flow.Flow, error) {
	flows, err := s.queryFlows(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE state = 'ACTIVE' ORDER BY user_id, id`)
	if err != nil {
		return nil, fmt.Errorf("listing active flows: %w", err)
	}
	return flows, nil
}

func (s *SQLiteStore) queryFlows(ctx context.Context, query string, args ...interface{}) ([]flow.Flow, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []flow.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning flow: %w", err)
		}
		flows = append(flows, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range flows {
		runs, err := s.loadRuns(ctx, flows[i].ID)
		if err != nil {
			return nil, err
		}
		flows[i].RecentRuns = runs
	}
	return flows, nil
}

func scanFlow(rows *sqlx.Rows) (*flow.Flow, error) {
	var (
		f                                     flow.Flow
		cfgJSON                               string
		suggestedAt, decidedAt, lastTriggered *time.Time
	)
	err := rows.Scan(&f.ID, &f.UserID,
		&f.Signature.TitleKey, &f.Signature.Category,
		&f.Signature.Weekday, &f.Signature.HourBucket,
		&f.State, &f.Confidence, &cfgJSON, &f.ConsecutiveRejections,
		&suggestedAt, &decidedAt, &lastTriggered, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &f.Config); err != nil {
		return nil, fmt.Errorf("decoding flow config: %w", err)
	}
	f.SuggestedAt = suggestedAt
	f.DecidedAt = decidedAt
	f.LastTriggered = lastTriggered
	return &f, nil
}

func (s *SQLiteStore) loadRuns(ctx context.Context, flowID string) ([]flow.RunRecord, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT run_at, edited, title, duration_minutes FROM flow_runs WHERE flow_id = ? ORDER BY run_at", flowID)
	if err != nil {
		return nil, fmt.Errorf("listing flow runs: %w", err)
	}
	defer rows.Close()

	var runs []flow.RunRecord
	for rows.Next() {
		var (
			r      flow.RunRecord
			edited int
		)
		if err := rows.Scan(&r.RunAt, &edited, &r.Title, &r.DurationMinutes); err != nil {
			return nil, fmt.Errorf("scanning flow run: %w", err)
		}
		r.Edited = edited == 1
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
