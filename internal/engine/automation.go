package engine

import (
	"context"

	"github.com/jmoiron/sqlx"

	"studioflow/internal/domain"
)

// AutomationOutcome reports what rule evaluation did after an action update.
type AutomationOutcome struct {
	Evaluated bool   `json:"evaluated"`
	RuleID    string `json:"rule_id,omitempty"`
	Advanced  bool   `json:"advanced"`
	Completed bool   `json:"completed"`
	ToPhase   string `json:"to_phase,omitempty"`
}

// evaluate applies the first active all_actions_complete rule of cur that
// wants to act. The caller has established that every required action of
// cur is complete. At most one step is taken per evaluation.
func (e Engine) evaluate(ctx context.Context, tx *sqlx.Tx, p domain.Project, t domain.PhaseTracking, cur domain.Phase, out *outbox) (AutomationOutcome, domain.PhaseTracking, error) {
	outcome := AutomationOutcome{Evaluated: true}
	rules, err := e.Repo.ActiveRulesTx(ctx, tx, cur.ID, domain.RuleAllActionsComplete)
	if err != nil {
		return outcome, t, err
	}
	final := e.Catalog.IsFinal(t.CurrentPhaseIndex)
	for _, rule := range rules {
		if !rule.Config.AutoAdvance {
			continue
		}
		if final {
			// the final phase needs an explicit approval unless the rule opts in
			if !rule.Config.AutoComplete {
				continue
			}
			if err := e.decide(ctx, tx, p, cur, domain.DecisionApproved, domain.SystemActorID, ReasonAutoCompleted); err != nil {
				return outcome, t, err
			}
			if t, err = e.completeTx(ctx, tx, p, t, cur, domain.SystemActorID, out); err != nil {
				return outcome, t, err
			}
			outcome.RuleID = rule.ID
			outcome.Completed = true
			return outcome, t, nil
		}
		if t, err = e.advanceTx(ctx, tx, p, t, cur, domain.SystemActorID, ReasonAutoAdvanced, out); err != nil {
			return outcome, t, err
		}
		next, _ := e.Catalog.ByIndex(t.CurrentPhaseIndex)
		outcome.RuleID = rule.ID
		outcome.Advanced = true
		outcome.ToPhase = next.Key
		return outcome, t, nil
	}
	return outcome, t, nil
}
