package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"studioflow/internal/domain"
)

const trackingColumns = `project_id,current_phase_id,current_phase_index,phase_started_at,is_completed,completed_at,updated_at`

func (r Repo) InsertTracking(ctx context.Context, tx *sqlx.Tx, t domain.PhaseTracking) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO project_phase_tracking(`+trackingColumns+`) VALUES (?,?,?,?,?,?,?)`),
		t.ProjectID, t.CurrentPhaseID, t.CurrentPhaseIndex, t.PhaseStartedAt, t.IsCompleted, nullableStringPtr(t.CompletedAt), t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert tracking: %w", err)
	}
	return nil
}

func getTracking(ctx context.Context, q queryer, projectID, suffix string) (domain.PhaseTracking, error) {
	var t domain.PhaseTracking
	err := sqlx.GetContext(ctx, q, &t, q.Rebind(`SELECT `+trackingColumns+` FROM project_phase_tracking WHERE project_id=?`+suffix), projectID)
	return t, notFound(err)
}

func (r Repo) GetTracking(ctx context.Context, projectID string) (domain.PhaseTracking, error) {
	return getTracking(ctx, r.DB, projectID, "")
}

func (r Repo) GetTrackingTx(ctx context.Context, tx *sqlx.Tx, projectID string) (domain.PhaseTracking, error) {
	return getTracking(ctx, tx, projectID, "")
}

// LockTracking reads the tracking row and holds it for the rest of tx.
func (r Repo) LockTracking(ctx context.Context, tx *sqlx.Tx, projectID string) (domain.PhaseTracking, error) {
	return getTracking(ctx, tx, projectID, r.DB.LockClause())
}

func (r Repo) UpdateTracking(ctx context.Context, tx *sqlx.Tx, t domain.PhaseTracking) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE project_phase_tracking
SET current_phase_id=?, current_phase_index=?, phase_started_at=?, is_completed=?, completed_at=?, updated_at=?
WHERE project_id=?`),
		t.CurrentPhaseID, t.CurrentPhaseIndex, t.PhaseStartedAt, t.IsCompleted, nullableStringPtr(t.CompletedAt), t.UpdatedAt, t.ProjectID)
	if err != nil {
		return fmt.Errorf("update tracking: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordCompletion stores when a phase was left; a later completion of the
// same phase (after a jump back) overwrites the earlier one.
func (r Repo) RecordCompletion(ctx context.Context, tx *sqlx.Tx, c domain.PhaseCompletion) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO phase_completions(project_id,phase_id,completed_at) VALUES (?,?,?)
ON CONFLICT(project_id,phase_id) DO UPDATE SET completed_at=excluded.completed_at`),
		c.ProjectID, c.PhaseID, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("record phase completion: %w", err)
	}
	return nil
}

func (r Repo) ListCompletionsTx(ctx context.Context, tx *sqlx.Tx, projectID string) ([]domain.PhaseCompletion, error) {
	var res []domain.PhaseCompletion
	err := tx.SelectContext(ctx, &res, tx.Rebind(`SELECT project_id,phase_id,completed_at FROM phase_completions WHERE project_id=? ORDER BY completed_at, phase_id`), projectID)
	return res, err
}
