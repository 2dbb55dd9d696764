package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"studioflow/internal/domain"
)

func (r Repo) InsertDecisionTx(ctx context.Context, tx *sqlx.Tx, d domain.PhaseDecision) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO phase_decisions(id,project_id,phase_id,decision,actor_id,notes,created_at) VALUES (?,?,?,?,?,?,?)`),
		d.ID, d.ProjectID, d.PhaseID, d.Decision, d.ActorID, nullable(d.Notes), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// ListDecisions returns a project's approvals and rejections, newest first.
func (r Repo) ListDecisions(ctx context.Context, projectID string) ([]domain.PhaseDecision, error) {
	var res []domain.PhaseDecision
	err := r.DB.SelectContext(ctx, &res, r.DB.Rebind(`SELECT id,project_id,phase_id,decision,actor_id,COALESCE(notes,'') AS notes,created_at
FROM phase_decisions WHERE project_id=? ORDER BY created_at DESC, id DESC`), projectID)
	return res, err
}
