package auth

import (
	"errors"
	"testing"

	"studioflow/internal/domain"
)

func TestRequireOwnerOrAdmin(t *testing.T) {
	p := domain.Project{ID: "p1", OwnerID: "client-1"}
	if err := RequireOwnerOrAdmin(domain.Actor{ID: "client-1"}, p, PermPhaseDecide); err != nil {
		t.Fatalf("owner should pass: %v", err)
	}
	if err := RequireOwnerOrAdmin(domain.Actor{ID: "staff", Admin: true}, p, PermPhaseDecide); err != nil {
		t.Fatalf("admin should pass: %v", err)
	}
	if err := RequireOwnerOrAdmin(domain.System(), p, PermPhaseAdvance); err != nil {
		t.Fatalf("system should pass: %v", err)
	}
	err := RequireOwnerOrAdmin(domain.Actor{ID: "client-2"}, p, PermPhaseDecide)
	var forbidden ForbiddenError
	if !errors.As(err, &forbidden) || forbidden.Permission != PermPhaseDecide {
		t.Fatalf("expected forbidden %s, got %v", PermPhaseDecide, err)
	}
}

func TestCanSetAction(t *testing.T) {
	system := domain.Phase{Key: "payment", IsSystemPhase: true}
	regular := domain.Phase{Key: "design"}
	if err := CanSetAction(domain.Actor{ID: "client-1"}, regular); err != nil {
		t.Fatalf("regular phase open to clients: %v", err)
	}
	if err := CanSetAction(domain.Actor{ID: "client-1"}, system); err == nil {
		t.Fatalf("client must not set system phase actions")
	}
	if err := CanSetAction(domain.Actor{ID: "staff", Admin: true}, system); err != nil {
		t.Fatalf("admin may set system phase actions: %v", err)
	}
	if err := CanSetAction(domain.System(), system); err != nil {
		t.Fatalf("system may set system phase actions: %v", err)
	}
}
