package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"studioflow/internal/domain"
)

// UpsertActionStatus writes the ledger row for one project action.
func (r Repo) UpsertActionStatus(ctx context.Context, tx *sqlx.Tx, s domain.ActionStatus) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO project_action_status(project_id,action_id,phase_id,is_completed,completed_at,completed_by,notes,updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(project_id,action_id) DO UPDATE SET
  phase_id=excluded.phase_id,
  is_completed=excluded.is_completed,
  completed_at=excluded.completed_at,
  completed_by=excluded.completed_by,
  notes=excluded.notes,
  updated_at=excluded.updated_at`),
		s.ProjectID, s.ActionID, s.PhaseID, s.IsCompleted, nullableStringPtr(s.CompletedAt), nullableStringPtr(s.CompletedBy), nullable(s.Notes), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert action status: %w", err)
	}
	return nil
}

// ListActionStatusesTx returns ledger rows for the project's actions in a phase.
func (r Repo) ListActionStatusesTx(ctx context.Context, tx *sqlx.Tx, projectID, phaseID string) ([]domain.ActionStatus, error) {
	var res []domain.ActionStatus
	err := tx.SelectContext(ctx, &res, tx.Rebind(`SELECT project_id,action_id,phase_id,is_completed,completed_at,completed_by,COALESCE(notes,'') AS notes,updated_at
FROM project_action_status WHERE project_id=? AND phase_id=?`), projectID, phaseID)
	return res, err
}

// CountCompletedRequired counts completed ledger rows among the given action ids.
func (r Repo) CountCompletedRequired(ctx context.Context, tx *sqlx.Tx, projectID string, actionIDs []string) (int, error) {
	if len(actionIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM project_action_status WHERE project_id=? AND is_completed=TRUE AND action_id IN (?)`, projectID, actionIDs)
	if err != nil {
		return 0, err
	}
	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind(query), args...); err != nil {
		return 0, err
	}
	return n, nil
}
