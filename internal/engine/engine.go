package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"studioflow/internal/activity"
	"studioflow/internal/catalog"
	"studioflow/internal/db"
	"studioflow/internal/domain"
	"studioflow/internal/engine/auth"
	"studioflow/internal/history"
	"studioflow/internal/notify"
	"studioflow/internal/repo"
)

const (
	ReasonCreated       = "Project created"
	ReasonAdvanced      = "Advanced to next phase"
	ReasonApproved      = "Phase approved"
	ReasonAutoAdvanced  = "Auto-advanced: All required actions completed"
	ReasonAutoCompleted = "Auto-completed: All required actions completed"
	ReasonManualJump    = "Manual phase change"
)

// Engine owns every change to a project's position in the phase pipeline.
// Each mutation runs in one transaction holding the project's tracking row;
// notifications and activity entries are emitted only after commit.
type Engine struct {
	DB       *db.DB
	Repo     repo.Repo
	History  history.Recorder
	Activity activity.Writer
	Auth     auth.Service
	Catalog  *catalog.Catalog
	Notifier notify.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(conn *db.DB, cat *catalog.Catalog) Engine {
	r := repo.Repo{DB: conn}
	return Engine{
		DB:       conn,
		Repo:     r,
		History:  history.Recorder{DB: conn},
		Activity: activity.Writer{DB: conn},
		Auth:     auth.Service{Repo: r},
		Catalog:  cat,
		Logger:   slog.Default(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

type logEntry struct {
	action      string
	description string
	meta        activity.Metadata
}

// outbox collects side effects of a mutation until its transaction commits.
type outbox struct {
	events  []notify.Event
	entries []logEntry
}

func (o *outbox) notify(evt notify.Event) { o.events = append(o.events, evt) }

func (o *outbox) record(action, description string, meta activity.Metadata) {
	o.entries = append(o.entries, logEntry{action: action, description: description, meta: meta})
}

func (e Engine) event(typ string, p domain.Project, actorID string, phase domain.Phase) notify.Event {
	return notify.Event{
		Type:        typ,
		ProjectID:   p.ID,
		ProjectName: p.Name,
		OwnerID:     p.OwnerID,
		ActorID:     actorID,
		ToPhase:     phase.Key,
		PhaseName:   phase.Name,
		OccurredAt:  e.stamp(),
	}
}

// flush delivers the outbox. Failures are logged and never reach the caller:
// the workflow change is already committed.
func (e Engine) flush(ctx context.Context, p domain.Project, actorID string, out *outbox) {
	ctx = context.WithoutCancel(ctx)
	if e.Activity.DB != nil {
		w := e.Activity
		w.Now = e.now
		for _, l := range out.entries {
			if err := w.Append(ctx, p.ID, actorID, l.action, l.description, l.meta); err != nil {
				e.log().Warn("activity log write failed", "project_id", p.ID, "action", l.action, "error", err)
			}
		}
	}
	if e.Notifier == nil {
		return
	}
	for _, evt := range out.events {
		if err := e.Notifier.Notify(ctx, evt); err != nil {
			e.log().Warn("notification failed", "project_id", p.ID, "event", evt.Type, "error", err)
		}
	}
}

type mutation func(tx *sqlx.Tx, p domain.Project, actor domain.Actor, out *outbox) error

// mutate runs fn against a live project inside a write transaction.
func (e Engine) mutate(ctx context.Context, projectID string, actor domain.Actor, fn mutation) (err error) {
	defer func() { err = classify(err) }()
	actor, err = e.Auth.Resolve(ctx, actor)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginWrite(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.project(ctx, tx, projectID)
	if err != nil {
		return err
	}
	var out outbox
	if err := fn(tx, p, actor, &out); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.flush(ctx, p, actor.ID, &out)
	return nil
}

func (e Engine) project(ctx context.Context, tx *sqlx.Tx, projectID string) (domain.Project, error) {
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return p, errorf(ErrProjectNotFound, "project %s not found", projectID)
	}
	return p, err
}

// phaseAt resolves the catalog phase a tracking row points at. A mismatch
// means the stored state and the catalog disagree.
func (e Engine) phaseAt(t domain.PhaseTracking) (domain.Phase, error) {
	phase, ok := e.Catalog.ByIndex(t.CurrentPhaseIndex)
	if !ok || phase.ID != t.CurrentPhaseID {
		e.log().Error("tracking row disagrees with phase catalog",
			"project_id", t.ProjectID, "index", t.CurrentPhaseIndex, "phase_id", t.CurrentPhaseID)
		return domain.Phase{}, errorf(ErrPhaseNotFound, "no phase at index %d for project %s", t.CurrentPhaseIndex, t.ProjectID)
	}
	return phase, nil
}

// lockCurrent reads and locks the tracking row and resolves its phase.
func (e Engine) lockCurrent(ctx context.Context, tx *sqlx.Tx, projectID string) (domain.PhaseTracking, domain.Phase, error) {
	t, err := e.Repo.LockTracking(ctx, tx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return t, domain.Phase{}, errorf(ErrNotInitialized, "project %s has no phase tracking", projectID)
	}
	if err != nil {
		return t, domain.Phase{}, err
	}
	phase, err := e.phaseAt(t)
	return t, phase, err
}

// NewProject describes a project to create.
type NewProject struct {
	ID      string
	Name    string
	OwnerID string
}

// CreateProject inserts the project and initializes its tracking in one
// transaction. Administrators may create projects for anyone; other actors
// only for themselves.
func (e Engine) CreateProject(ctx context.Context, in NewProject, actor domain.Actor) (p domain.Project, state domain.PhaseState, err error) {
	defer func() { err = classify(err) }()
	in.Name = strings.TrimSpace(in.Name)
	if in.OwnerID == "" {
		in.OwnerID = actor.ID
	}
	if in.Name == "" {
		return p, state, errorf(ErrInvalidInput, "project name is required")
	}
	actor, err = e.Auth.Resolve(ctx, actor)
	if err != nil {
		return p, state, err
	}
	if actor.ID != in.OwnerID {
		if err := auth.RequireAdmin(actor, auth.PermProjectCreate); err != nil {
			return p, state, err
		}
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	p = domain.Project{
		ID:        in.ID,
		Name:      in.Name,
		OwnerID:   in.OwnerID,
		Status:    domain.ProjectStatusActive,
		CreatedAt: e.stamp(),
	}

	tx, err := e.DB.BeginWrite(ctx)
	if err != nil {
		return p, state, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		if db.IsConflict(err) {
			return p, state, errorf(ErrInvalidInput, "project %s already exists", p.ID)
		}
		return p, state, err
	}
	t, err := e.InitializeTx(ctx, tx, p.ID, actor.ID)
	if err != nil {
		return p, state, err
	}
	state, err = e.buildState(ctx, tx, t)
	if err != nil {
		return p, state, err
	}
	if err := tx.Commit(); err != nil {
		return p, state, err
	}
	var out outbox
	out.record("project_created", fmt.Sprintf("Project %s created in %s", p.Name, state.Phase.Name), activity.Metadata{"owner_id": p.OwnerID})
	if state.Phase.RequiresClientAction {
		out.notify(e.event(notify.EventApprovalNeeded, p, actor.ID, state.Phase))
	}
	e.flush(ctx, p, actor.ID, &out)
	return p, state, nil
}

// DeleteProject soft-deletes a project. Its tracking row and history stay.
func (e Engine) DeleteProject(ctx context.Context, projectID string, actor domain.Actor) error {
	return e.mutate(ctx, projectID, actor, func(tx *sqlx.Tx, p domain.Project, actor domain.Actor, out *outbox) error {
		if err := auth.RequireAdmin(actor, auth.PermProjectDelete); err != nil {
			return err
		}
		if err := e.Repo.SoftDeleteProject(ctx, tx, p.ID, e.stamp()); err != nil {
			return err
		}
		out.record("project_deleted", fmt.Sprintf("Project %s deleted", p.Name), nil)
		return nil
	})
}

// InitializeTx creates the tracking row at the first phase and writes the
// first history entry inside the caller's transaction.
func (e Engine) InitializeTx(ctx context.Context, tx *sqlx.Tx, projectID, actorID string) (domain.PhaseTracking, error) {
	if _, err := e.Repo.GetTrackingTx(ctx, tx, projectID); err == nil {
		return domain.PhaseTracking{}, errorf(ErrAlreadyInitialized, "project %s already has phase tracking", projectID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.PhaseTracking{}, err
	}
	first, ok := e.Catalog.ByIndex(0)
	if !ok {
		return domain.PhaseTracking{}, errorf(ErrPhaseNotFound, "catalog has no first phase")
	}
	now := e.stamp()
	t := domain.PhaseTracking{
		ProjectID:         projectID,
		CurrentPhaseID:    first.ID,
		CurrentPhaseIndex: 0,
		PhaseStartedAt:    now,
		UpdatedAt:         now,
	}
	if err := e.Repo.InsertTracking(ctx, tx, t); err != nil {
		if db.IsConflict(err) {
			return domain.PhaseTracking{}, errorf(ErrAlreadyInitialized, "project %s already has phase tracking", projectID)
		}
		return domain.PhaseTracking{}, err
	}
	if _, err := e.History.Append(ctx, tx, domain.Transition{
		ProjectID:      projectID,
		ToPhaseID:      first.ID,
		TransitionedBy: actorID,
		Reason:         ReasonCreated,
		CreatedAt:      now,
	}); err != nil {
		return domain.PhaseTracking{}, err
	}
	return t, nil
}

// Initialize creates phase tracking for an existing project.
func (e Engine) Initialize(ctx context.Context, projectID string, actor domain.Actor) (domain.PhaseState, error) {
	var state domain.PhaseState
	err := e.mutate(ctx, projectID, actor, func(tx *sqlx.Tx, p domain.Project, actor domain.Actor, out *outbox) error {
		if err := auth.RequireOwnerOrAdmin(actor, p, auth.PermPhaseAdvance); err != nil {
			return err
		}
		t, err := e.InitializeTx(ctx, tx, p.ID, actor.ID)
		if err != nil {
			return err
		}
		if state, err = e.buildState(ctx, tx, t); err != nil {
			return err
		}
		out.record("phase_initialized", fmt.Sprintf("Project entered %s", state.Phase.Name), nil)
		if state.Phase.RequiresClientAction {
			out.notify(e.event(notify.EventApprovalNeeded, p, actor.ID, state.Phase))
		}
		return nil
	})
	return state, err
}

// advanceTx moves t one phase forward, recording the completion of the phase
// being left and a history entry.
func (e Engine) advanceTx(ctx context.Context, tx *sqlx.Tx, p domain.Project, t domain.PhaseTracking, from domain.Phase, actorID, reason string, out *outbox) (domain.PhaseTracking, error) {
	if e.Catalog.IsFinal(t.CurrentPhaseIndex) {
		return t, errorf(ErrAtFinalPhase, "project %s is at the final phase %s", p.ID, from.Key)
	}
	next, ok := e.Catalog.ByIndex(t.CurrentPhaseIndex + 1)
	if !ok {
		e.log().Error("no phase after current index", "project_id", p.ID, "index", t.CurrentPhaseIndex)
		return t, errorf(ErrPhaseNotFound, "no phase at index %d", t.CurrentPhaseIndex+1)
	}
	now := e.stamp()
	if err := e.Repo.RecordCompletion(ctx, tx, domain.PhaseCompletion{ProjectID: p.ID, PhaseID: from.ID, CompletedAt: now}); err != nil {
		return t, err
	}
	t.CurrentPhaseID = next.ID
	t.CurrentPhaseIndex = next.OrderIndex
	t.PhaseStartedAt = now
	t.UpdatedAt = now
	if err := e.Repo.UpdateTracking(ctx, tx, t); err != nil {
		return t, err
	}
	fromID := from.ID
	if _, err := e.History.Append(ctx, tx, domain.Transition{
		ProjectID:      p.ID,
		FromPhaseID:    &fromID,
		ToPhaseID:      next.ID,
		TransitionedBy: actorID,
		Reason:         reason,
		CreatedAt:      now,
	}); err != nil {
		return t, err
	}

	evt := e.event(notify.EventPhaseAdvanced, p, actorID, next)
	evt.FromPhase = from.Key
	evt.Reason = reason
	out.notify(evt)
	if next.RequiresClientAction {
		out.notify(e.event(notify.EventApprovalNeeded, p, actorID, next))
	}
	out.record("phase_advanced", fmt.Sprintf("Moved from %s to %s", from.Name, next.Name),
		activity.Metadata{"from_phase": from.Key, "to_phase": next.Key, "reason": reason})
	return t, nil
}

// Advance moves the project to the next phase without checking actions.
func (e Engine) Advance(ctx context.Context, projectID string, actor domain.Actor, reason string) (domain.PhaseState, error) {
	if strings.TrimSpace(reason) == "" {
		reason = ReasonAdvanced
	}
	var state domain.PhaseState
	err := e.mutate(ctx, projectID, actor, func(tx *sqlx.Tx, p domain.Project, actor domain.Actor, out *outbox) error {
		if err := auth.RequireOwnerOrAdmin(actor, p, auth.PermPhaseAdvance); err != nil {
			return err
		}
		t, cur, err := e.lockCurrent(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if t, err = e.advanceTx(ctx, tx, p, t, cur, actor.ID, reason, out); err != nil {
			return err
		}
		state, err = e.buildState(ctx, tx, t)
		return err
	})
	return state, err
}

// JumpTo moves the project to any phase. No gate applies and skipped phases
// get no completion record.
func (e Engine) JumpTo(ctx context.Context, projectID, phaseKey string, actor domain.Actor, reason string) (domain.PhaseState, error) {
	if strings.TrimSpace(reason) == "" {
		reason = ReasonManualJump
	}
	var state domain.PhaseState
	err := e.mutate(ctx, projectID, actor, func(tx *sqlx.Tx, p domain.Project, actor domain.Actor, out *outbox) error {
		if err := auth.RequireAdmin(actor, auth.PermPhaseJump); err != nil {
			return err
		}
		target, ok := e.Catalog.ByKey(phaseKey)
		if !ok {
			return errorf(ErrUnknownPhase, "unknown phase %q", phaseKey)
		}
		t, cur, err := e.lockCurrent(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if target.OrderIndex == t.CurrentPhaseIndex {
			return errorf(ErrAlreadyInPhase, "project %s is already in %s", p.ID, target.Key)
		}
		reopened := t.IsCompleted
		now := e.stamp()
		t.CurrentPhaseID = target.ID
		t.CurrentPhaseIndex = target.OrderIndex
		t.PhaseStartedAt = now
		t.IsCompleted = false
		t.CompletedAt = nil
		t.UpdatedAt = now
		if err := e.Repo.UpdateTracking(ctx, tx, t); err != nil {
			return err
		}
		// p was read before the tracking lock; the locked row decides.
		if reopened {
			if err := e.Repo.SetProjectStatus(ctx, tx, p.ID, domain.ProjectStatusActive); err != nil {
				return err
			}
		}
		fromID := cur.ID
		if _, err := e.History.Append(ctx, tx, domain.Transition{
			ProjectID:      p.ID,
			FromPhaseID:    &fromID,
			ToPhaseID:      target.ID,
			TransitionedBy: actor.ID,
			Reason:         reason,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		evt := e.event(notify.EventPhaseChanged, p, actor.ID, target)
		evt.FromPhase = cur.Key
		evt.Reason = reason
		out.notify(evt)
		if target.RequiresClientAction {
			out.notify(e.event(notify.EventApprovalNeeded, p, actor.ID, target))
		}
		out.record("phase_jumped", fmt.Sprintf("Moved from %s to %s", cur.Name, target.Name),
			activity.Metadata{"from_phase": cur.Key, "to_phase": target.Key, "reason": reason})
		state, err = e.buildState(ctx, tx, t)
		return err
	})
	return state, err
}

// checkDecision validates that a decision may be taken on the current phase.
func checkDecision(t domain.PhaseTracking, cur domain.Phase, phaseKey string) error {
	if t.IsCompleted {
		return errorf(ErrProjectCompleted, "project %s is already completed", t.ProjectID)
	}
	if phaseKey != "" && phaseKey != cur.Key {
		return errorf(ErrNotCurrentPhase, "phase %s is not the current phase (%s)", phaseKey, cur.Key)
	}
	return nil
}

func (e Engine) decide(ctx context.Context, tx *sqlx.Tx, p domain.Project, phase domain.Phase, decision, actorID, notes string) error {
	return e.Repo.InsertDecisionTx(ctx, tx, domain.PhaseDecision{
		ID:        uuid.NewString(),
		ProjectID: p.ID,
		PhaseID:   phase.ID,
		Decision:  decision,
		ActorID:   actorID,
		Notes:     notes,
		CreatedAt: e.stamp(),
	})
}

// completeTx marks the final phase done and the project completed.
func (e Engine) completeTx(ctx context.Context, tx *sqlx.Tx, p domain.Project, t domain.PhaseTracking, final domain.Phase, actorID string, out *outbox) (domain.PhaseTracking, error) {
	now := e.stamp()
	t.IsCompleted = true
	t.CompletedAt = &now
	t.UpdatedAt = now
	if err := e.Repo.UpdateTracking(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Repo.RecordCompletion(ctx, tx, domain.PhaseCompletion{ProjectID: p.ID, PhaseID: final.ID, CompletedAt: now}); err != nil {
		return t, err
	}
	if err := e.Repo.SetProjectStatus(ctx, tx, p.ID, domain.ProjectStatusCompleted); err != nil {
		return t, err
	}
	out.notify(e.event(notify.EventProjectCompleted, p, actorID, final))
	out.record("project_completed", fmt.Sprintf("Project %s completed", p.Name), activity.Metadata{"phase": final.Key})
	return t, nil
}

// Approve records an approval of the current phase. A non-final phase is
// left for the next one; the final phase completes the project.
func (e Engine) Approve(ctx context.Context, projectID, phaseKey string, actor domain.Actor, notes string) (domain.PhaseState, error) {
	var state domain.PhaseState
	err := e.mutate(ctx, projectID, actor, func(tx *sqlx.Tx, p domain.Project, actor domain.Actor, out *outbox) error {
		if err := auth.RequireOwnerOrAdmin(actor, p, auth.PermPhaseDecide); err != nil {
			return err
		}
		t, cur, err := e.lockCurrent(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if err := checkDecision(t, cur, phaseKey); err != nil {
			return err
		}
		if err := e.decide(ctx, tx, p, cur, domain.DecisionApproved, actor.ID, notes); err != nil {
			return err
		}
		evt := e.event(notify.EventPhaseApproved, p, actor.ID, cur)
		evt.Notes = notes
		out.notify(evt)
		out.record("phase_approved", fmt.Sprintf("%s approved", cur.Name), activity.Metadata{"phase": cur.Key, "notes": notes})

		if e.Catalog.IsFinal(t.CurrentPhaseIndex) {
			t, err = e.completeTx(ctx, tx, p, t, cur, actor.ID, out)
		} else {
			t, err = e.advanceTx(ctx, tx, p, t, cur, actor.ID, ReasonApproved, out)
		}
		if err != nil {
			return err
		}
		state, err = e.buildState(ctx, tx, t)
		return err
	})
	return state, err
}

// Reject records a change request against the current phase. The project
// stays where it is.
func (e Engine) Reject(ctx context.Context, projectID, phaseKey string, actor domain.Actor, feedback string) (domain.PhaseState, error) {
	if strings.TrimSpace(feedback) == "" {
		return domain.PhaseState{}, errorf(ErrInvalidInput, "feedback is required to request changes")
	}
	var state domain.PhaseState
	err := e.mutate(ctx, projectID, actor, func(tx *sqlx.Tx, p domain.Project, actor domain.Actor, out *outbox) error {
		if err := auth.RequireOwnerOrAdmin(actor, p, auth.PermPhaseDecide); err != nil {
			return err
		}
		t, cur, err := e.lockCurrent(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if err := checkDecision(t, cur, phaseKey); err != nil {
			return err
		}
		if err := e.decide(ctx, tx, p, cur, domain.DecisionRejected, actor.ID, feedback); err != nil {
			return err
		}
		evt := e.event(notify.EventChangesRequested, p, actor.ID, cur)
		evt.Notes = feedback
		out.notify(evt)
		out.record("changes_requested", fmt.Sprintf("Changes requested in %s", cur.Name), activity.Metadata{"phase": cur.Key, "feedback": feedback})
		state, err = e.buildState(ctx, tx, t)
		return err
	})
	return state, err
}

// GetCurrentState reads a project's position without taking write locks.
func (e Engine) GetCurrentState(ctx context.Context, projectID string) (state domain.PhaseState, err error) {
	defer func() { err = classify(err) }()
	tx, err := e.DB.BeginRead(ctx)
	if err != nil {
		return state, err
	}
	defer tx.Rollback()
	if _, err := e.project(ctx, tx, projectID); err != nil {
		return state, err
	}
	t, err := e.Repo.GetTrackingTx(ctx, tx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return state, errorf(ErrNotInitialized, "project %s has no phase tracking", projectID)
	}
	if err != nil {
		return state, err
	}
	return e.buildState(ctx, tx, t)
}

func (e Engine) buildState(ctx context.Context, tx *sqlx.Tx, t domain.PhaseTracking) (domain.PhaseState, error) {
	phase, err := e.phaseAt(t)
	if err != nil {
		return domain.PhaseState{}, err
	}
	completions, err := e.Repo.ListCompletionsTx(ctx, tx, t.ProjectID)
	if err != nil {
		return domain.PhaseState{}, err
	}
	statuses, err := e.Repo.ListActionStatusesTx(ctx, tx, t.ProjectID, phase.ID)
	if err != nil {
		return domain.PhaseState{}, err
	}
	state := domain.PhaseState{
		ProjectID:           t.ProjectID,
		Phase:               phase,
		PhaseIndex:          t.CurrentPhaseIndex,
		TotalPhases:         e.Catalog.Len(),
		PhaseStartedAt:      t.PhaseStartedAt,
		IsCompleted:         t.IsCompleted,
		CompletedAt:         t.CompletedAt,
		Completions:         map[string]string{},
		Actions:             []domain.ActionCheck{},
		AllRequiredComplete: true,
	}
	for _, c := range completions {
		if ph, ok := e.Catalog.ByID(c.PhaseID); ok {
			state.Completions[ph.Key] = c.CompletedAt
		}
	}
	byAction := make(map[string]domain.ActionStatus, len(statuses))
	for _, s := range statuses {
		byAction[s.ActionID] = s
	}
	for _, a := range e.Catalog.Actions(phase.ID) {
		check := domain.ActionCheck{Action: a}
		if s, ok := byAction[a.ID]; ok {
			check.IsCompleted = s.IsCompleted
			check.CompletedAt = s.CompletedAt
			check.CompletedBy = s.CompletedBy
			check.Notes = s.Notes
		}
		if a.IsRequired && !check.IsCompleted {
			state.AllRequiredComplete = false
		}
		state.Actions = append(state.Actions, check)
	}
	return state, nil
}

// HistoryPage is one page of a project's transition history, newest first.
type HistoryPage struct {
	Entries []domain.TransitionView `json:"entries"`
	Total   int                     `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

func (e Engine) ListHistory(ctx context.Context, projectID string, limit, offset int) (page HistoryPage, err error) {
	defer func() { err = classify(err) }()
	if limit < 0 || offset < 0 {
		return page, errorf(ErrInvalidInput, "limit and offset must not be negative")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return page, errorf(ErrProjectNotFound, "project %s not found", projectID)
		}
		return page, err
	}
	entries, err := e.History.List(ctx, projectID, limit, offset)
	if err != nil {
		return page, err
	}
	total, err := e.History.Count(ctx, projectID)
	if err != nil {
		return page, err
	}
	return HistoryPage{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}

// ProjectFor returns the project when actor may view it.
func (e Engine) ProjectFor(ctx context.Context, projectID string, actor domain.Actor) (p domain.Project, err error) {
	defer func() { err = classify(err) }()
	actor, err = e.Auth.Resolve(ctx, actor)
	if err != nil {
		return p, err
	}
	p, err = e.Repo.GetProject(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return p, errorf(ErrProjectNotFound, "project %s not found", projectID)
	}
	if err != nil {
		return p, err
	}
	return p, auth.RequireOwnerOrAdmin(actor, p, auth.PermPhaseAdvance)
}

func (e Engine) Decisions(ctx context.Context, projectID string) ([]domain.PhaseDecision, error) {
	res, err := e.Repo.ListDecisions(ctx, projectID)
	return res, classify(err)
}

func (e Engine) ActivityLog(ctx context.Context, projectID string, limit int) ([]domain.ActivityEntry, error) {
	res, err := e.Activity.List(ctx, projectID, limit)
	return res, classify(err)
}
