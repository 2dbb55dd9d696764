// Package notify delivers workflow events to people and systems outside the
// engine. Every notifier is best effort: the engine logs and drops failures.
package notify

import (
	"context"
	"errors"
)

const (
	EventPhaseAdvanced    = "phase_advanced"
	EventPhaseChanged     = "phase_changed"
	EventApprovalNeeded   = "approval_needed"
	EventPhaseApproved    = "phase_approved"
	EventChangesRequested = "changes_requested"
	EventProjectCompleted = "project_completed"
)

type Recipient struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Event describes one committed workflow change.
type Event struct {
	Type        string      `json:"type"`
	ProjectID   string      `json:"project_id"`
	ProjectName string      `json:"project_name,omitempty"`
	OwnerID     string      `json:"owner_id"`
	ActorID     string      `json:"actor_id"`
	FromPhase   string      `json:"from_phase,omitempty"`
	ToPhase     string      `json:"to_phase,omitempty"`
	PhaseName   string      `json:"phase_name,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	OccurredAt  string      `json:"occurred_at"`
	Recipients  []Recipient `json:"recipients,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, evt Event) error

func (f Func) Notify(ctx context.Context, evt Event) error { return f(ctx, evt) }
