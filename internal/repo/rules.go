package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"studioflow/internal/domain"
)

type ruleRow struct {
	ID          string `db:"id"`
	FromPhaseID string `db:"from_phase_id"`
	RuleType    string `db:"rule_type"`
	ConfigJSON  string `db:"rule_config"`
	IsActive    bool   `db:"is_active"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (row ruleRow) toDomain() (domain.AutomationRule, error) {
	rule := domain.AutomationRule{
		ID:          row.ID,
		FromPhaseID: row.FromPhaseID,
		RuleType:    row.RuleType,
		IsActive:    row.IsActive,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(row.ConfigJSON), &rule.Config); err != nil {
			return rule, fmt.Errorf("rule %s: decode rule_config: %w", row.ID, err)
		}
	}
	return rule, nil
}

func rulesFromRows(rows []ruleRow) ([]domain.AutomationRule, error) {
	res := make([]domain.AutomationRule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, nil
}

const ruleColumns = `id,from_phase_id,rule_type,rule_config,is_active,created_at,updated_at`

// InsertRule stores a rule. A nil tx writes through the pool.
func (r Repo) InsertRule(ctx context.Context, tx *sqlx.Tx, rule domain.AutomationRule) error {
	cfg, err := json.Marshal(rule.Config)
	if err != nil {
		return err
	}
	query := r.DB.Rebind(`INSERT INTO automation_rules(` + ruleColumns + `) VALUES (?,?,?,?,?,?,?)`)
	args := []any{rule.ID, rule.FromPhaseID, rule.RuleType, string(cfg), rule.IsActive, rule.CreatedAt, rule.UpdatedAt}
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = r.DB.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.AutomationRule, error) {
	var row ruleRow
	if err := r.DB.GetContext(ctx, &row, r.DB.Rebind(`SELECT `+ruleColumns+` FROM automation_rules WHERE id=?`), id); err != nil {
		return domain.AutomationRule{}, notFound(err)
	}
	return row.toDomain()
}

// ListRules returns rules, optionally filtered by source phase.
func (r Repo) ListRules(ctx context.Context, phaseID string) ([]domain.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules`
	var args []any
	if phaseID != "" {
		query += ` WHERE from_phase_id=?`
		args = append(args, phaseID)
	}
	query += ` ORDER BY created_at, id`
	var rows []ruleRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return rulesFromRows(rows)
}

// CountRulesTx reports how many rules exist for a phase, active or not.
func (r Repo) CountRulesTx(ctx context.Context, tx *sqlx.Tx, phaseID string) (int, error) {
	var n int
	err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM automation_rules WHERE from_phase_id=?`), phaseID)
	return n, err
}

// ActiveRulesTx returns active rules of ruleType attached to a phase.
func (r Repo) ActiveRulesTx(ctx context.Context, tx *sqlx.Tx, phaseID, ruleType string) ([]domain.AutomationRule, error) {
	var rows []ruleRow
	err := tx.SelectContext(ctx, &rows, tx.Rebind(`SELECT `+ruleColumns+` FROM automation_rules
WHERE from_phase_id=? AND rule_type=? AND is_active=TRUE ORDER BY created_at, id`), phaseID, ruleType)
	if err != nil {
		return nil, err
	}
	return rulesFromRows(rows)
}

func (r Repo) UpdateRule(ctx context.Context, rule domain.AutomationRule) error {
	cfg, err := json.Marshal(rule.Config)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, r.DB.Rebind(`UPDATE automation_rules SET rule_config=?, is_active=?, updated_at=? WHERE id=?`),
		string(cfg), rule.IsActive, rule.UpdatedAt, rule.ID)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRule(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, r.DB.Rebind(`DELETE FROM automation_rules WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
