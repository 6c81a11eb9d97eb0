package store

import (
	"context"
	"fmt"
	"time"

	"github.com/harrison/deploypilot/internal/models"
)

// Transition is one row of the append-only audit log.
type Transition struct {
	ID               int64
	RunID            string
	AttemptID        string
	RecommendationID string
	Stage            string
	Status           string
	SkipReason       string
	ErrorKind        string
	ErrorMessage     string
	RetryCount       int
	CostUSD          float64
	RecordedAt       time.Time
}

// RecordTransition appends the attempt's current state to the audit log.
// Rows are never updated or deleted.
func (s *Store) RecordTransition(ctx context.Context, att *models.DeploymentAttempt) error {
	var errKind, errMsg string
	if att.Error != nil {
		errKind = att.Error.Kind
		errMsg = att.Error.Message
	}

	const q = `INSERT INTO attempt_transitions
(run_id, attempt_id, recommendation_id, stage, status, skip_reason, error_kind, error_message, retry_count, cost_usd, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		att.RunID,
		att.ID,
		att.RecommendationID,
		att.Stage.String(),
		att.Status,
		att.SkipReason,
		errKind,
		errMsg,
		att.RetryCount,
		att.CostUSD,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("record transition for attempt %s: %w", att.ID, err)
	}
	return nil
}

// TransitionsForRun returns the full transition history of a run in
// insertion order.
func (s *Store) TransitionsForRun(ctx context.Context, runID string) ([]Transition, error) {
	const q = `SELECT id, run_id, attempt_id, recommendation_id, stage, status, skip_reason,
error_kind, error_message, retry_count, cost_usd, recorded_at
FROM attempt_transitions WHERE run_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("query transitions for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.ID, &t.RunID, &t.AttemptID, &t.RecommendationID,
			&t.Stage, &t.Status, &t.SkipReason, &t.ErrorKind, &t.ErrorMessage,
			&t.RetryCount, &t.CostUSD, &t.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransitionsForAttempt returns one attempt's transition history in
// insertion order.
func (s *Store) TransitionsForAttempt(ctx context.Context, attemptID string) ([]Transition, error) {
	const q = `SELECT id, run_id, attempt_id, recommendation_id, stage, status, skip_reason,
error_kind, error_message, retry_count, cost_usd, recorded_at
FROM attempt_transitions WHERE attempt_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query transitions for attempt %s: %w", attemptID, err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.ID, &t.RunID, &t.AttemptID, &t.RecommendationID,
			&t.Stage, &t.Status, &t.SkipReason, &t.ErrorKind, &t.ErrorMessage,
			&t.RetryCount, &t.CostUSD, &t.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
