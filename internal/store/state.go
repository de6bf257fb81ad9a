package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
)

// Load returns the persisted workflow state of an article. It implements
// core.StateStore.
func (s *Store) Load(ctx context.Context, subjectID string) (core.WorkflowState, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `SELECT state FROM workflow_states WHERE article_id=$1`, subjectID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WorkflowState{}, fmt.Errorf("workflow state %s: %w", subjectID, core.ErrNotFound)
		}
		return core.WorkflowState{}, err
	}
	var state core.WorkflowState
	if err := json.Unmarshal(raw, &state); err != nil {
		return core.WorkflowState{}, fmt.Errorf("decode workflow state: %w", err)
	}
	return state, nil
}

// Save upserts the workflow state and mirrors status, content, titles and
// score onto the article row in one transaction.
func (s *Store) Save(ctx context.Context, subjectID string, state core.WorkflowState) (err error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode workflow state: %w", err)
	}
	var (
		content string
		titles  = []byte("[]")
		score   sql.NullInt64
	)
	if state.Draft != nil {
		content = state.Draft.Content
		if b, mErr := json.Marshal(state.Draft.TitleCandidates); mErr == nil && state.Draft.TitleCandidates != nil {
			titles = b
		}
	}
	if state.Review != nil {
		score = sql.NullInt64{Int64: int64(state.Review.TotalScore), Valid: true}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `
INSERT INTO workflow_states (article_id, run_id, phase, state, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (article_id) DO UPDATE SET
  run_id = EXCLUDED.run_id,
  phase = EXCLUDED.phase,
  state = EXCLUDED.state,
  updated_at = NOW();
`, subjectID, state.RunID, string(state.Phase), raw); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
UPDATE articles SET status=$2, content=$3, title_candidates=$4, total_score=$5, updated_at=NOW()
WHERE id=$1
`, subjectID, string(state.Status()), content, titles, score); err != nil {
		return err
	}
	return tx.Commit()
}
