package notify

import (
	"context"
	"errors"

	"studioflow/internal/domain"
	"studioflow/internal/repo"
)

// Directory looks up the people an event may be addressed to.
type Directory interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	ListAdmins(ctx context.Context) ([]domain.User, error)
}

// Dispatcher fills in recipients before handing the event to Next. The
// recipients are the other party of the change: the owner when the studio
// acted, the administrators when the owner acted.
type Dispatcher struct {
	Directory Directory
	Next      Notifier
}

func (d Dispatcher) Notify(ctx context.Context, evt Event) error {
	if d.Next == nil {
		return nil
	}
	if d.Directory != nil && len(evt.Recipients) == 0 {
		recipients, err := d.recipients(ctx, evt)
		if err != nil {
			return err
		}
		evt.Recipients = recipients
	}
	return d.Next.Notify(ctx, evt)
}

func (d Dispatcher) recipients(ctx context.Context, evt Event) ([]Recipient, error) {
	toOwner, toAdmins := false, false
	switch {
	case evt.Type == EventProjectCompleted:
		toOwner, toAdmins = true, true
	case evt.Type == EventApprovalNeeded:
		toOwner = true
	case evt.ActorID == evt.OwnerID:
		toAdmins = true
	default:
		toOwner = true
	}

	var res []Recipient
	seen := map[string]bool{evt.ActorID: true}
	add := func(u domain.User) {
		if seen[u.ID] {
			return
		}
		seen[u.ID] = true
		res = append(res, Recipient{ID: u.ID, Name: u.DisplayName, Email: u.Email})
	}
	if toOwner && evt.OwnerID != "" {
		owner, err := d.Directory.GetUser(ctx, evt.OwnerID)
		if errors.Is(err, repo.ErrNotFound) {
			owner = domain.User{ID: evt.OwnerID}
		} else if err != nil {
			return nil, err
		}
		add(owner)
	}
	if toAdmins {
		admins, err := d.Directory.ListAdmins(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range admins {
			add(a)
		}
	}
	return res, nil
}
