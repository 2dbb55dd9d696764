package auth

import (
	"context"
	"fmt"

	"studioflow/internal/domain"
	"studioflow/internal/repo"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

const (
	PermProjectCreate = "project.create"
	PermProjectDelete = "project.delete"
	PermPhaseAdvance  = "phase.advance"
	PermPhaseDecide   = "phase.decide"
	PermPhaseJump     = "phase.jump"
	PermActionUpdate  = "action.update"
	PermSystemAction  = "action.system"
	PermRulesManage   = "rules.manage"
)

// Service answers who may drive a project's workflow. Administrators may do
// anything; a project owner may drive their own project; the system actor is
// trusted.
type Service struct {
	Repo repo.Repo
}

// Resolve merges the stored user role into the caller-supplied actor.
func (s Service) Resolve(ctx context.Context, actor domain.Actor) (domain.Actor, error) {
	if actor.ID == "" {
		return actor, ForbiddenError{Permission: "authenticated"}
	}
	if actor.Admin || actor.IsSystem() {
		return actor, nil
	}
	admin, err := s.Repo.IsAdmin(ctx, actor.ID)
	if err != nil {
		return actor, err
	}
	actor.Admin = admin
	return actor, nil
}

// RequireAdmin fails unless actor is an administrator or the system actor.
func RequireAdmin(actor domain.Actor, perm string) error {
	if actor.Admin || actor.IsSystem() {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

// RequireOwnerOrAdmin fails unless actor owns p or is an administrator.
func RequireOwnerOrAdmin(actor domain.Actor, p domain.Project, perm string) error {
	if actor.ID != "" && actor.ID == p.OwnerID {
		return nil
	}
	return RequireAdmin(actor, perm)
}

// CanSetAction checks the phase-level rule for action updates: only
// administrators and the system actor touch actions of a system phase.
func CanSetAction(actor domain.Actor, phase domain.Phase) error {
	if !phase.IsSystemPhase {
		return nil
	}
	return RequireAdmin(actor, PermSystemAction)
}
