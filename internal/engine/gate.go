package engine

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"studioflow/internal/activity"
	"studioflow/internal/domain"
	"studioflow/internal/engine/auth"
)

// ActionUpdate marks one project action done or not done. Action is an
// action id or, preferably within the current phase, an action key.
type ActionUpdate struct {
	ProjectID string
	Action    string
	Completed bool
	Notes     string
}

type ActionResult struct {
	Status              domain.ActionStatus `json:"status"`
	AllRequiredComplete bool                `json:"all_required_complete"`
	Automation          AutomationOutcome   `json:"automation"`
	State               domain.PhaseState   `json:"state"`
}

// SetActionStatus upserts the ledger row for an action and, once every
// required action of the current phase is complete, evaluates the phase's
// automation rules in the same transaction.
func (e Engine) SetActionStatus(ctx context.Context, in ActionUpdate, actor domain.Actor) (ActionResult, error) {
	var res ActionResult
	err := e.mutate(ctx, in.ProjectID, actor, func(tx *sqlx.Tx, p domain.Project, actor domain.Actor, out *outbox) error {
		if err := auth.RequireOwnerOrAdmin(actor, p, auth.PermActionUpdate); err != nil {
			return err
		}
		t, cur, err := e.lockCurrent(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		action, ok := e.Catalog.FindAction(in.Action, cur.ID)
		if !ok {
			return errorf(ErrActionNotFound, "action %q not found", in.Action)
		}
		owner, ok := e.Catalog.ByID(action.PhaseID)
		if !ok {
			return errorf(ErrPhaseNotFound, "action %s references missing phase %s", action.Key, action.PhaseID)
		}
		if owner.ID != cur.ID && !actor.Admin && !actor.IsSystem() {
			return errorf(ErrActionNotInCurrentPhase, "action %s belongs to %s, current phase is %s", action.Key, owner.Key, cur.Key)
		}
		if err := auth.CanSetAction(actor, owner); err != nil {
			return err
		}

		now := e.stamp()
		status := domain.ActionStatus{
			ProjectID:   p.ID,
			ActionID:    action.ID,
			PhaseID:     owner.ID,
			IsCompleted: in.Completed,
			Notes:       in.Notes,
			UpdatedAt:   now,
		}
		if in.Completed {
			by := actor.ID
			status.CompletedAt = &now
			status.CompletedBy = &by
		}
		if err := e.Repo.UpsertActionStatus(ctx, tx, status); err != nil {
			return err
		}
		res.Status = status
		verb := "action_completed"
		if !in.Completed {
			verb = "action_reopened"
		}
		out.record(verb, fmt.Sprintf("%s: %s", owner.Name, action.Description), activity.Metadata{"phase": owner.Key, "action": action.Key})

		if res.AllRequiredComplete, err = e.requiredComplete(ctx, tx, p.ID, cur); err != nil {
			return err
		}
		if in.Completed && owner.ID == cur.ID && res.AllRequiredComplete && !t.IsCompleted {
			if res.Automation, t, err = e.evaluate(ctx, tx, p, t, cur, out); err != nil {
				return err
			}
		}
		res.State, err = e.buildState(ctx, tx, t)
		return err
	})
	return res, err
}

// requiredComplete reports whether every required action of phase has a
// completed ledger row. A phase without required actions is complete.
func (e Engine) requiredComplete(ctx context.Context, tx *sqlx.Tx, projectID string, phase domain.Phase) (bool, error) {
	required := e.Catalog.RequiredActions(phase.ID)
	if len(required) == 0 {
		return true, nil
	}
	ids := make([]string, len(required))
	for i, a := range required {
		ids[i] = a.ID
	}
	n, err := e.Repo.CountCompletedRequired(ctx, tx, projectID, ids)
	if err != nil {
		return false, err
	}
	return n == len(required), nil
}
