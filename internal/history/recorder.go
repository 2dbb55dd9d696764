package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"studioflow/internal/db"
	"studioflow/internal/domain"
)

// Recorder appends and reads the per-project phase transition history.
// Entries are never updated or deleted.
type Recorder struct {
	DB  *db.DB
	Now func() time.Time
}

// Append inserts entry inside tx, assigning id, seq and created_at when
// unset. The caller must hold the project's tracking row lock so that seq
// values are unique and gap-free.
func (r Recorder) Append(ctx context.Context, tx *sqlx.Tx, entry domain.Transition) (domain.Transition, error) {
	if entry.ProjectID == "" || entry.ToPhaseID == "" {
		return entry, errors.New("history entry requires project and target phase")
	}
	if entry.TransitionedBy == "" {
		return entry, errors.New("history entry requires an actor")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt == "" {
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		entry.CreatedAt = now().UTC().Format(time.RFC3339)
	}
	if err := tx.GetContext(ctx, &entry.Seq, tx.Rebind(`SELECT COALESCE(MAX(seq),0)+1 FROM phase_transitions WHERE project_id=?`), entry.ProjectID); err != nil {
		return entry, fmt.Errorf("next history seq: %w", err)
	}
	var from any
	if entry.FromPhaseID != nil {
		from = *entry.FromPhaseID
	}
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO phase_transitions(id,project_id,seq,from_phase_id,to_phase_id,transitioned_by,reason,created_at)
VALUES (?,?,?,?,?,?,?,?)`),
		entry.ID, entry.ProjectID, entry.Seq, from, entry.ToPhaseID, entry.TransitionedBy, entry.Reason, entry.CreatedAt)
	if err != nil {
		return entry, fmt.Errorf("append history: %w", err)
	}
	return entry, nil
}

const viewQuery = `SELECT t.id, t.project_id, t.seq, t.from_phase_id, t.to_phase_id, t.transitioned_by, t.reason, t.created_at,
  COALESCE(fp.key,'') AS from_phase_key, COALESCE(fp.name,'') AS from_phase_name, COALESCE(fp.icon,'') AS from_phase_icon,
  tp.key AS to_phase_key, tp.name AS to_phase_name, COALESCE(tp.icon,'') AS to_phase_icon,
  COALESCE(u.display_name, CASE WHEN t.transitioned_by='system' THEN 'System' ELSE t.transitioned_by END) AS actor_name
FROM phase_transitions t
JOIN phases tp ON tp.id = t.to_phase_id
LEFT JOIN phases fp ON fp.id = t.from_phase_id
LEFT JOIN users u ON u.id = t.transitioned_by
WHERE t.project_id=?
ORDER BY t.seq DESC`

// List returns history newest first. A non-positive limit returns every
// entry after offset.
func (r Recorder) List(ctx context.Context, projectID string, limit, offset int) ([]domain.TransitionView, error) {
	query := viewQuery
	args := []any{projectID}
	switch {
	case limit > 0:
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, max(offset, 0))
	case offset > 0 && r.DB.Dialect == db.Postgres:
		query += ` OFFSET ?`
		args = append(args, offset)
	case offset > 0:
		// SQLite only accepts OFFSET after a LIMIT; -1 means unbounded.
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, offset)
	}
	res := []domain.TransitionView{}
	if err := r.DB.SelectContext(ctx, &res, r.DB.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return res, nil
}

func (r Recorder) Count(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.GetContext(ctx, &n, r.DB.Rebind(`SELECT COUNT(*) FROM phase_transitions WHERE project_id=?`), projectID)
	return n, err
}
