package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"studioflow/internal/config"
	"studioflow/internal/db"
	"studioflow/internal/domain"
	"studioflow/internal/repo"
)

// PhaseID derives the stable id of a configured phase.
func PhaseID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("studioflow/phase/"+key)).String()
}

// ActionID derives the stable id of a configured action.
func ActionID(phaseKey, actionKey string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("studioflow/action/"+phaseKey+"/"+actionKey)).String()
}

// RuleID derives the id of the default rule seeded for a phase.
func RuleID(phaseKey string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("studioflow/rule/"+phaseKey)).String()
}

// Seed upserts configured phases and actions and inserts the configured
// automation rule for every phase that has no rule yet. Rules edited through
// the admin surface are never overwritten.
func Seed(ctx context.Context, conn *db.DB, cfg *config.Config, now time.Time) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	tx, err := conn.BeginWrite(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	phaseSQL := tx.Rebind(`INSERT INTO phases(id,key,name,description,icon,order_index,requires_client_action,is_system_phase)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, icon=excluded.icon,
  order_index=excluded.order_index, requires_client_action=excluded.requires_client_action, is_system_phase=excluded.is_system_phase`)
	actionSQL := tx.Rebind(`INSERT INTO phase_actions(id,phase_id,key,description,is_required,order_index)
VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET description=excluded.description, is_required=excluded.is_required, order_index=excluded.order_index`)

	store := repo.Repo{DB: conn}
	ts := now.UTC().Format(time.RFC3339)
	for i, p := range cfg.Catalog.Phases {
		phaseID := PhaseID(p.Key)
		if _, err := tx.ExecContext(ctx, phaseSQL, phaseID, p.Key, p.Name, p.Description, p.Icon, i, p.RequiresClientAction, p.SystemPhase); err != nil {
			return fmt.Errorf("seed phase %s: %w", p.Key, err)
		}
		for j, a := range p.Actions {
			if _, err := tx.ExecContext(ctx, actionSQL, ActionID(p.Key, a.Key), phaseID, a.Key, a.Description, a.Required, j); err != nil {
				return fmt.Errorf("seed action %s/%s: %w", p.Key, a.Key, err)
			}
		}
		if p.Automation == nil {
			continue
		}
		n, err := store.CountRulesTx(ctx, tx, phaseID)
		if err != nil {
			return fmt.Errorf("count rules for %s: %w", p.Key, err)
		}
		if n > 0 {
			continue
		}
		rule := domain.AutomationRule{
			ID:          RuleID(p.Key),
			FromPhaseID: phaseID,
			RuleType:    domain.RuleAllActionsComplete,
			Config:      domain.RuleConfig{AutoAdvance: p.Automation.AutoAdvance, AutoComplete: p.Automation.AutoComplete},
			IsActive:    p.Automation.Active,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		}
		if err := store.InsertRule(ctx, tx, rule); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load reads the stored catalog and validates it. expected is the required
// phase count, or zero to accept any non-empty catalog.
func Load(ctx context.Context, conn *db.DB, expected int) (*Catalog, error) {
	var phases []domain.Phase
	if err := conn.SelectContext(ctx, &phases, `SELECT id,key,name,COALESCE(description,'') AS description,COALESCE(icon,'') AS icon,
order_index,requires_client_action,is_system_phase FROM phases ORDER BY order_index`); err != nil {
		return nil, fmt.Errorf("load phases: %w", err)
	}
	var actions []domain.Action
	if err := conn.SelectContext(ctx, &actions, `SELECT id,phase_id,key,description,is_required,order_index
FROM phase_actions ORDER BY phase_id, order_index`); err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	return New(phases, actions, expected)
}
