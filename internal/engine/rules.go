package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"studioflow/internal/domain"
	"studioflow/internal/engine/auth"
	"studioflow/internal/repo"
)

// RuleInput creates an all_actions_complete rule for a phase.
type RuleInput struct {
	PhaseKey     string
	AutoAdvance  bool
	AutoComplete bool
	Active       bool
}

// RulePatch changes a rule; nil fields are left alone.
type RulePatch struct {
	AutoAdvance  *bool
	AutoComplete *bool
	Active       *bool
}

func (e Engine) admin(ctx context.Context, actor domain.Actor) error {
	actor, err := e.Auth.Resolve(ctx, actor)
	if err != nil {
		return err
	}
	return auth.RequireAdmin(actor, auth.PermRulesManage)
}

func (e Engine) checkAutoComplete(phase domain.Phase, autoComplete bool) error {
	if autoComplete && !e.Catalog.IsFinal(phase.OrderIndex) {
		return errorf(ErrInvalidInput, "auto_complete is only valid on the final phase, not %s", phase.Key)
	}
	return nil
}

// ListRules returns rules, optionally only those of one phase.
func (e Engine) ListRules(ctx context.Context, phaseKey string) ([]domain.AutomationRule, error) {
	phaseID := ""
	if phaseKey != "" {
		phase, ok := e.Catalog.ByKey(phaseKey)
		if !ok {
			return nil, errorf(ErrUnknownPhase, "unknown phase %q", phaseKey)
		}
		phaseID = phase.ID
	}
	rules, err := e.Repo.ListRules(ctx, phaseID)
	return rules, classify(err)
}

func (e Engine) CreateRule(ctx context.Context, in RuleInput, actor domain.Actor) (rule domain.AutomationRule, err error) {
	defer func() { err = classify(err) }()
	if err := e.admin(ctx, actor); err != nil {
		return rule, err
	}
	phase, ok := e.Catalog.ByKey(in.PhaseKey)
	if !ok {
		return rule, errorf(ErrUnknownPhase, "unknown phase %q", in.PhaseKey)
	}
	if err := e.checkAutoComplete(phase, in.AutoComplete); err != nil {
		return rule, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	rule = domain.AutomationRule{
		ID:          uuid.NewString(),
		FromPhaseID: phase.ID,
		RuleType:    domain.RuleAllActionsComplete,
		Config:      domain.RuleConfig{AutoAdvance: in.AutoAdvance, AutoComplete: in.AutoComplete},
		IsActive:    in.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return rule, e.Repo.InsertRule(ctx, nil, rule)
}

func (e Engine) UpdateRule(ctx context.Context, id string, patch RulePatch, actor domain.Actor) (rule domain.AutomationRule, err error) {
	defer func() { err = classify(err) }()
	if err := e.admin(ctx, actor); err != nil {
		return rule, err
	}
	rule, err = e.Repo.GetRule(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return rule, errorf(ErrRuleNotFound, "rule %s not found", id)
	}
	if err != nil {
		return rule, err
	}
	if patch.AutoAdvance != nil {
		rule.Config.AutoAdvance = *patch.AutoAdvance
	}
	if patch.AutoComplete != nil {
		rule.Config.AutoComplete = *patch.AutoComplete
	}
	if patch.Active != nil {
		rule.IsActive = *patch.Active
	}
	phase, ok := e.Catalog.ByID(rule.FromPhaseID)
	if !ok {
		return rule, errorf(ErrPhaseNotFound, "rule %s references missing phase %s", rule.ID, rule.FromPhaseID)
	}
	if err := e.checkAutoComplete(phase, rule.Config.AutoComplete); err != nil {
		return rule, err
	}
	rule.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateRule(ctx, rule); err != nil {
		return rule, err
	}
	return rule, nil
}

func (e Engine) DeleteRule(ctx context.Context, id string, actor domain.Actor) (err error) {
	defer func() { err = classify(err) }()
	if err := e.admin(ctx, actor); err != nil {
		return err
	}
	err = e.Repo.DeleteRule(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return errorf(ErrRuleNotFound, "rule %s not found", id)
	}
	return err
}
