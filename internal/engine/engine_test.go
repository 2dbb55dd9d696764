package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"studioflow/internal/catalog"
	"studioflow/internal/config"
	"studioflow/internal/db"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/migrate"
	"studioflow/internal/notify"
)

var (
	staff   = domain.Actor{ID: "staff"}
	client  = domain.Actor{ID: "client-1"}
	another = domain.Actor{ID: "client-2"}
)

type sink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *sink) Notify(_ context.Context, evt notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *sink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []string
	for _, e := range s.events {
		res = append(res, e.Type)
	}
	return res
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Sink   *sink
}

func newTestEnv(t *testing.T) testEnv {
	return newTestEnvWith(t, nil)
}

func newTestEnvWith(t *testing.T, tweak func(cfg *config.Config)) testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	if tweak != nil {
		tweak(cfg)
	}
	clock := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := catalog.Seed(ctx, conn, cfg, clock()); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	cat, err := catalog.Load(ctx, conn, config.PhaseCount)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	eng := engine.New(conn, cat)
	eng.Now = clock
	eng.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &sink{}
	eng.Notifier = s

	for _, u := range []domain.User{
		{ID: "staff", DisplayName: "Studio Staff", Role: domain.RoleAdmin},
		{ID: "client-1", DisplayName: "Client One", Role: domain.RoleClient},
		{ID: "client-2", DisplayName: "Client Two", Role: domain.RoleClient},
	} {
		if err := eng.Repo.UpsertUser(ctx, nil, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	if _, _, err := eng.CreateProject(ctx, engine.NewProject{ID: "proj-1", Name: "Rebrand", OwnerID: "client-1"}, client); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Sink: s}
}

func (env testEnv) state(t *testing.T) domain.PhaseState {
	t.Helper()
	st, err := env.Engine.GetCurrentState(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	env.checkInvariant(t)
	return st
}

// checkInvariant verifies the stored index matches the stored phase id.
func (env testEnv) checkInvariant(t *testing.T) {
	t.Helper()
	tr, err := env.Engine.Repo.GetTracking(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get tracking: %v", err)
	}
	phase, ok := env.Engine.Catalog.ByID(tr.CurrentPhaseID)
	if !ok || phase.OrderIndex != tr.CurrentPhaseIndex {
		t.Fatalf("tracking index %d does not match phase %s", tr.CurrentPhaseIndex, tr.CurrentPhaseID)
	}
	if tr.IsCompleted && !env.Engine.Catalog.IsFinal(tr.CurrentPhaseIndex) {
		t.Fatalf("completed project must sit at the final phase")
	}
}

func (env testEnv) historyLen(t *testing.T) int {
	t.Helper()
	n, err := env.Engine.History.Count(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("count history: %v", err)
	}
	return n
}

func (env testEnv) mark(t *testing.T, actor domain.Actor, action string) engine.ActionResult {
	t.Helper()
	res, err := env.Engine.SetActionStatus(env.Ctx, engine.ActionUpdate{ProjectID: "proj-1", Action: action, Completed: true}, actor)
	if err != nil {
		t.Fatalf("mark %s: %v", action, err)
	}
	env.checkInvariant(t)
	return res
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestCreateProjectInitializesTracking(t *testing.T) {
	env := newTestEnv(t)
	st := env.state(t)
	if st.PhaseIndex != 0 || st.Phase.Key != "onboarding" || st.TotalPhases != 8 {
		t.Fatalf("unexpected initial state: %+v", st)
	}
	if st.IsCompleted || st.AllRequiredComplete {
		t.Fatalf("fresh project must not be complete: %+v", st)
	}
	if len(st.Actions) != 2 || st.Actions[0].Key != "complete_questionnaire" {
		t.Fatalf("unexpected checklist: %+v", st.Actions)
	}
	page, err := env.Engine.ListHistory(env.Ctx, "proj-1", 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 1 || len(page.Entries) != 1 {
		t.Fatalf("expected 1 history entry, got %+v", page)
	}
	first := page.Entries[0]
	if first.FromPhaseID != nil || first.ToPhaseKey != "onboarding" || first.Reason != engine.ReasonCreated || first.Seq != 1 {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if first.ActorName != "Client One" {
		t.Fatalf("expected actor display name, got %q", first.ActorName)
	}
	if got := env.Sink.types(); len(got) != 1 || got[0] != notify.EventApprovalNeeded {
		t.Fatalf("expected approval_needed notification, got %v", got)
	}
}

func TestCreateProjectForSomeoneElseRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.CreateProject(env.Ctx, engine.NewProject{Name: "Side job", OwnerID: "client-1"}, another)
	if engine.KindOf(err) != engine.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	p, _, err := env.Engine.CreateProject(env.Ctx, engine.NewProject{Name: "Side job", OwnerID: "client-2"}, staff)
	if err != nil {
		t.Fatalf("admin create: %v", err)
	}
	if p.OwnerID != "client-2" || p.ID == "" {
		t.Fatalf("unexpected project: %+v", p)
	}
	_, _, err = env.Engine.CreateProject(env.Ctx, engine.NewProject{ID: "proj-1", Name: "Dup"}, client)
	expectErr(t, err, engine.ErrInvalidInput)
}

func TestInitializeTwiceFailsAndKeepsRow(t *testing.T) {
	env := newTestEnv(t)
	before, err := env.Engine.Repo.GetTracking(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Initialize(env.Ctx, "proj-1", staff)
	expectErr(t, err, engine.ErrAlreadyInitialized)
	after, err := env.Engine.Repo.GetTracking(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Fatalf("tracking row changed: %+v -> %+v", before, after)
	}
	if n := env.historyLen(t); n != 1 {
		t.Fatalf("expected 1 history entry, got %d", n)
	}
}

func TestInitializeExistingProject(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.Engine.DB.BeginWrite(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.InsertProject(env.Ctx, tx, domain.Project{ID: "legacy", Name: "Legacy", OwnerID: "client-1", Status: domain.ProjectStatusActive, CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.GetCurrentState(env.Ctx, "legacy")
	expectErr(t, err, engine.ErrNotInitialized)
	st, err := env.Engine.Initialize(env.Ctx, "legacy", client)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if st.PhaseIndex != 0 {
		t.Fatalf("expected index 0, got %d", st.PhaseIndex)
	}
	_, err = env.Engine.Initialize(env.Ctx, "missing", staff)
	expectErr(t, err, engine.ErrProjectNotFound)
}

func TestAdvanceAtFinalPhaseFails(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.JumpTo(env.Ctx, "proj-1", "delivery", staff, ""); err != nil {
		t.Fatalf("jump: %v", err)
	}
	before := env.historyLen(t)
	_, err := env.Engine.Advance(env.Ctx, "proj-1", staff, "")
	expectErr(t, err, engine.ErrAtFinalPhase)
	if engine.KindOf(err) != engine.KindPrecondition {
		t.Fatalf("expected precondition kind, got %v", engine.KindOf(err))
	}
	if after := env.historyLen(t); after != before {
		t.Fatalf("history written on failed advance: %d -> %d", before, after)
	}
	env.checkInvariant(t)
}

func TestFullPipelineScenario(t *testing.T) {
	env := newTestEnv(t)

	res := env.mark(t, client, "complete_questionnaire")
	if !res.AllRequiredComplete || !res.Automation.Advanced || res.Automation.ToPhase != "ideation" {
		t.Fatalf("expected auto-advance to ideation: %+v", res.Automation)
	}
	st := env.state(t)
	if st.PhaseIndex != 1 || st.Phase.Key != "ideation" {
		t.Fatalf("expected ideation, got %+v", st)
	}
	if n := env.historyLen(t); n != 2 {
		t.Fatalf("expected 2 history entries, got %d", n)
	}

	steps := []struct {
		actor  domain.Actor
		action string
		next   string
	}{
		{client, "approve_direction", "design"},
		{client, "review_concepts", "review"},
		{client, "submit_feedback", "production"},
		{client, "confirm_specs", "payment"},
		{staff, "invoice_paid", "signoff"},
		{client, "sign_acceptance", "delivery"},
	}
	for i, step := range steps {
		res := env.mark(t, step.actor, step.action)
		if !res.Automation.Advanced || res.State.Phase.Key != step.next {
			t.Fatalf("step %s: expected move to %s, got %+v", step.action, step.next, res.State.Phase)
		}
		if n := env.historyLen(t); n != 3+i {
			t.Fatalf("step %s: expected %d history entries, got %d", step.action, 3+i, n)
		}
	}

	res = env.mark(t, client, "confirm_receipt")
	if !res.AllRequiredComplete || res.Automation.Advanced || res.Automation.Completed {
		t.Fatalf("final phase must wait for approval: %+v", res.Automation)
	}
	st = env.state(t)
	if st.PhaseIndex != 7 || st.IsCompleted {
		t.Fatalf("expected final phase pending approval, got %+v", st)
	}

	st, err := env.Engine.Approve(env.Ctx, "proj-1", "delivery", client, "Looks great")
	if err != nil {
		t.Fatalf("approve final: %v", err)
	}
	if !st.IsCompleted || st.CompletedAt == nil {
		t.Fatalf("expected completed project: %+v", st)
	}
	if len(st.Completions) != 8 {
		t.Fatalf("expected a completion for every phase, got %v", st.Completions)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil || p.Status != domain.ProjectStatusCompleted {
		t.Fatalf("expected project status completed: %+v %v", p, err)
	}
	if n := env.historyLen(t); n != 8 {
		t.Fatalf("final approval must not add history, got %d entries", n)
	}

	_, err = env.Engine.Advance(env.Ctx, "proj-1", staff, "")
	expectErr(t, err, engine.ErrAtFinalPhase)
	_, err = env.Engine.Approve(env.Ctx, "proj-1", "", staff, "")
	expectErr(t, err, engine.ErrProjectCompleted)
}

func TestPartialRequiredActionsDoNotAdvance(t *testing.T) {
	env := newTestEnvWith(t, func(cfg *config.Config) {
		cfg.Catalog.Phases[0].Actions[1].Required = true
	})
	res := env.mark(t, client, "complete_questionnaire")
	if res.AllRequiredComplete || res.Automation.Evaluated {
		t.Fatalf("one of two required actions must not trigger automation: %+v", res)
	}
	if st := env.state(t); st.PhaseIndex != 0 {
		t.Fatalf("phase moved early: %+v", st)
	}
	if n := env.historyLen(t); n != 1 {
		t.Fatalf("unexpected history: %d", n)
	}
	res = env.mark(t, client, "upload_brand_assets")
	if !res.AllRequiredComplete || !res.Automation.Advanced {
		t.Fatalf("expected advance once all required are done: %+v", res)
	}
}

func TestUncheckingActionDoesNotAdvance(t *testing.T) {
	env := newTestEnvWith(t, func(cfg *config.Config) {
		cfg.Catalog.Phases[0].Automation.Active = false
	})
	env.mark(t, client, "complete_questionnaire")
	res, err := env.Engine.SetActionStatus(env.Ctx, engine.ActionUpdate{ProjectID: "proj-1", Action: "complete_questionnaire", Completed: false, Notes: "redo"}, client)
	if err != nil {
		t.Fatalf("uncheck: %v", err)
	}
	if res.AllRequiredComplete || res.Status.CompletedAt != nil || res.Status.CompletedBy != nil {
		t.Fatalf("unchecked action must clear completion: %+v", res.Status)
	}
	if res.State.Actions[0].Notes != "redo" {
		t.Fatalf("notes not stored: %+v", res.State.Actions[0])
	}
}

func TestInactiveRuleDoesNotAdvance(t *testing.T) {
	env := newTestEnv(t)
	rules, err := env.Engine.ListRules(env.Ctx, "onboarding")
	if err != nil || len(rules) != 1 {
		t.Fatalf("expected seeded rule: %v %v", rules, err)
	}
	off := false
	if _, err := env.Engine.UpdateRule(env.Ctx, rules[0].ID, engine.RulePatch{Active: &off}, client); engine.KindOf(err) != engine.KindForbidden {
		t.Fatalf("clients must not edit rules: %v", err)
	}
	if _, err := env.Engine.UpdateRule(env.Ctx, rules[0].ID, engine.RulePatch{Active: &off}, staff); err != nil {
		t.Fatalf("disable rule: %v", err)
	}
	res := env.mark(t, client, "complete_questionnaire")
	if !res.AllRequiredComplete || !res.Automation.Evaluated || res.Automation.Advanced {
		t.Fatalf("inactive rule must not fire: %+v", res)
	}
	if st := env.state(t); st.PhaseIndex != 0 {
		t.Fatalf("phase moved: %+v", st)
	}
}

func TestRulesAdministration(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateRule(env.Ctx, engine.RuleInput{PhaseKey: "design", AutoAdvance: true, AutoComplete: true, Active: true}, staff)
	expectErr(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.CreateRule(env.Ctx, engine.RuleInput{PhaseKey: "nope", AutoAdvance: true}, staff)
	expectErr(t, err, engine.ErrUnknownPhase)

	rule, err := env.Engine.CreateRule(env.Ctx, engine.RuleInput{PhaseKey: "delivery", AutoAdvance: true, AutoComplete: true, Active: true}, staff)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	rules, err := env.Engine.ListRules(env.Ctx, "delivery")
	if err != nil || len(rules) != 2 {
		t.Fatalf("expected 2 delivery rules, got %v %v", rules, err)
	}
	if err := env.Engine.DeleteRule(env.Ctx, rule.ID, staff); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	expectErr(t, env.Engine.DeleteRule(env.Ctx, rule.ID, staff), engine.ErrRuleNotFound)
}

func TestFinalPhaseAutoCompleteOptIn(t *testing.T) {
	env := newTestEnvWith(t, func(cfg *config.Config) {
		cfg.Catalog.Phases[7].Automation.AutoComplete = true
	})
	if _, err := env.Engine.JumpTo(env.Ctx, "proj-1", "delivery", staff, "skip ahead"); err != nil {
		t.Fatalf("jump: %v", err)
	}
	res := env.mark(t, client, "confirm_receipt")
	if !res.Automation.Completed || !res.State.IsCompleted {
		t.Fatalf("expected auto-completion: %+v", res)
	}
	decisions, err := env.Engine.Decisions(env.Ctx, "proj-1")
	if err != nil || len(decisions) != 1 || decisions[0].ActorID != domain.SystemActorID {
		t.Fatalf("expected a system approval: %+v %v", decisions, err)
	}
}

func TestApproveNonFinalAdvancesAndRecordsDecision(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.Engine.Approve(env.Ctx, "proj-1", "onboarding", client, "ok")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if st.PhaseIndex != 1 || st.IsCompleted {
		t.Fatalf("expected ideation: %+v", st)
	}
	if _, ok := st.Completions["onboarding"]; !ok {
		t.Fatalf("expected onboarding completion: %v", st.Completions)
	}
	page, err := env.Engine.ListHistory(env.Ctx, "proj-1", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Entries[0].Reason != engine.ReasonApproved || page.Entries[0].FromPhaseKey != "onboarding" {
		t.Fatalf("unexpected latest entry: %+v", page.Entries[0])
	}
	decisions, err := env.Engine.Decisions(env.Ctx, "proj-1")
	if err != nil || len(decisions) != 1 || decisions[0].Decision != domain.DecisionApproved || decisions[0].Notes != "ok" {
		t.Fatalf("unexpected decisions: %+v %v", decisions, err)
	}
	_, err = env.Engine.Approve(env.Ctx, "proj-1", "onboarding", client, "")
	expectErr(t, err, engine.ErrNotCurrentPhase)
}

func TestRejectNeverMoves(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		st, err := env.Engine.Reject(env.Ctx, "proj-1", "", client, "Please revise")
		if err != nil {
			t.Fatalf("reject %d: %v", i, err)
		}
		if st.PhaseIndex != 0 {
			t.Fatalf("reject moved the project: %+v", st)
		}
	}
	_, err := env.Engine.Reject(env.Ctx, "proj-1", "", client, "  ")
	expectErr(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.Reject(env.Ctx, "proj-1", "design", client, "wrong phase")
	expectErr(t, err, engine.ErrNotCurrentPhase)
	if n := env.historyLen(t); n != 1 {
		t.Fatalf("reject wrote history: %d", n)
	}
	decisions, _ := env.Engine.Decisions(env.Ctx, "proj-1")
	if len(decisions) != 3 {
		t.Fatalf("expected 3 rejections, got %d", len(decisions))
	}
	types := env.Sink.types()
	if types[len(types)-1] != notify.EventChangesRequested {
		t.Fatalf("expected changes_requested, got %v", types)
	}
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Approve(env.Ctx, "proj-1", "", another, "")
	if engine.KindOf(err) != engine.KindForbidden {
		t.Fatalf("non-owner approve must be forbidden: %v", err)
	}
	_, err = env.Engine.Advance(env.Ctx, "proj-1", another, "")
	expectErr(t, err, engine.ErrForbidden)
	_, err = env.Engine.JumpTo(env.Ctx, "proj-1", "design", client, "")
	expectErr(t, err, engine.ErrForbidden)
	err = env.Engine.DeleteProject(env.Ctx, "proj-1", client)
	expectErr(t, err, engine.ErrForbidden)

	if _, err := env.Engine.Advance(env.Ctx, "proj-1", client, "ready"); err != nil {
		t.Fatalf("owner advance: %v", err)
	}
	if _, err := env.Engine.JumpTo(env.Ctx, "proj-1", "payment", staff, ""); err != nil {
		t.Fatalf("admin jump: %v", err)
	}
	_, err = env.Engine.SetActionStatus(env.Ctx, engine.ActionUpdate{ProjectID: "proj-1", Action: "invoice_paid", Completed: true}, client)
	expectErr(t, err, engine.ErrForbidden)
	if st := env.state(t); st.Phase.Key != "payment" {
		t.Fatalf("expected payment, got %s", st.Phase.Key)
	}
}

func TestActionGateErrors(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SetActionStatus(env.Ctx, engine.ActionUpdate{ProjectID: "proj-1", Action: "does_not_exist", Completed: true}, client)
	expectErr(t, err, engine.ErrActionNotFound)
	if engine.KindOf(err) != engine.KindNotFound {
		t.Fatalf("expected not found kind: %v", err)
	}
	_, err = env.Engine.SetActionStatus(env.Ctx, engine.ActionUpdate{ProjectID: "proj-1", Action: "review_concepts", Completed: true}, client)
	expectErr(t, err, engine.ErrActionNotInCurrentPhase)

	res, err := env.Engine.SetActionStatus(env.Ctx, engine.ActionUpdate{ProjectID: "proj-1", Action: "review_concepts", Completed: true}, staff)
	if err != nil {
		t.Fatalf("admin may pre-complete later actions: %v", err)
	}
	if res.Automation.Evaluated || res.State.PhaseIndex != 0 {
		t.Fatalf("updating another phase must not run automation: %+v", res)
	}
	id := catalog.ActionID("onboarding", "complete_questionnaire")
	res, err = env.Engine.SetActionStatus(env.Ctx, engine.ActionUpdate{ProjectID: "proj-1", Action: id, Completed: true}, client)
	if err != nil {
		t.Fatalf("mark by id: %v", err)
	}
	if res.Status.ActionID != id || res.Status.CompletedBy == nil || *res.Status.CompletedBy != "client-1" {
		t.Fatalf("unexpected ledger row: %+v", res.Status)
	}
}

func TestJumpTo(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.JumpTo(env.Ctx, "proj-1", "onboarding", staff, "")
	expectErr(t, err, engine.ErrAlreadyInPhase)
	_, err = env.Engine.JumpTo(env.Ctx, "proj-1", "bogus", staff, "")
	expectErr(t, err, engine.ErrUnknownPhase)

	if _, err := env.Engine.JumpTo(env.Ctx, "proj-1", "delivery", staff, ""); err != nil {
		t.Fatalf("jump forward: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "proj-1", "delivery", staff, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	st, err := env.Engine.JumpTo(env.Ctx, "proj-1", "review", staff, "Client reopened review")
	if err != nil {
		t.Fatalf("jump back: %v", err)
	}
	if st.IsCompleted || st.CompletedAt != nil || st.Phase.Key != "review" {
		t.Fatalf("jumping back must reopen the project: %+v", st)
	}
	if _, skipped := st.Completions["design"]; skipped {
		t.Fatalf("skipped phases must not be completed: %v", st.Completions)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.Status != domain.ProjectStatusActive {
		t.Fatalf("expected project active again, got %s", p.Status)
	}
	page, _ := env.Engine.ListHistory(env.Ctx, "proj-1", 0, 0)
	if page.Entries[0].Reason != "Client reopened review" || page.Entries[1].Reason != engine.ReasonManualJump {
		t.Fatalf("unexpected reasons: %q %q", page.Entries[0].Reason, page.Entries[1].Reason)
	}
}

func TestHistoryPagination(t *testing.T) {
	env := newTestEnv(t)
	env.mark(t, client, "complete_questionnaire")
	env.mark(t, client, "approve_direction")
	if _, err := env.Engine.Advance(env.Ctx, "proj-1", staff, "Moving on"); err != nil {
		t.Fatal(err)
	}
	page, err := env.Engine.ListHistory(env.Ctx, "proj-1", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 4 || len(page.Entries) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Entries[0].Seq != 4 || page.Entries[0].ActorName != "Studio Staff" || page.Entries[0].ToPhaseKey != "review" {
		t.Fatalf("unexpected newest entry: %+v", page.Entries[0])
	}
	if page.Entries[1].ActorName != "System" || page.Entries[1].Reason != engine.ReasonAutoAdvanced {
		t.Fatalf("expected system auto-advance: %+v", page.Entries[1])
	}
	page, err = env.Engine.ListHistory(env.Ctx, "proj-1", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 2 || page.Entries[1].Seq != 1 {
		t.Fatalf("unexpected second page: %+v", page.Entries)
	}
	page, err = env.Engine.ListHistory(env.Ctx, "proj-1", 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 4 || page.Offset != 3 || len(page.Entries) != 1 || page.Entries[0].Seq != 1 {
		t.Fatalf("unbounded page must still skip offset entries: %+v", page)
	}
	_, err = env.Engine.ListHistory(env.Ctx, "nope", 10, 0)
	expectErr(t, err, engine.ErrProjectNotFound)
}

func TestConcurrentAdvance(t *testing.T) {
	env := newTestEnv(t)
	const workers = 5
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.Advance(env.Ctx, "proj-1", staff, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	if st := env.state(t); st.PhaseIndex != workers {
		t.Fatalf("expected index %d, got %d", workers, st.PhaseIndex)
	}
	page, err := env.Engine.ListHistory(env.Ctx, "proj-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != workers+1 {
		t.Fatalf("expected %d entries, got %d", workers+1, len(page.Entries))
	}
	// newest first: each entry moves exactly one step from the one before it
	for i, entry := range page.Entries {
		want := workers - i
		to, _ := env.Engine.Catalog.ByKey(entry.ToPhaseKey)
		if to.OrderIndex != want || entry.Seq != int64(want+1) {
			t.Fatalf("entry %d: to index %d seq %d, want %d/%d", i, to.OrderIndex, entry.Seq, want, want+1)
		}
	}
}

func TestConcurrentAdvanceNearFinalPhase(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.JumpTo(env.Ctx, "proj-1", "signoff", staff, ""); err != nil {
		t.Fatal(err)
	}
	const workers = 4
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, last int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.Advance(env.Ctx, "proj-1", staff, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, engine.ErrAtFinalPhase):
				last++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || last != workers-1 {
		t.Fatalf("expected 1 success and %d at-final failures, got %d/%d", workers-1, ok, last)
	}
	if st := env.state(t); st.PhaseIndex != 7 {
		t.Fatalf("expected final phase, got %d", st.PhaseIndex)
	}
}

func TestConcurrentApproveAndJumpKeepStatusConsistent(t *testing.T) {
	env := newTestEnv(t)
	for round := 0; round < 5; round++ {
		if _, err := env.Engine.JumpTo(env.Ctx, "proj-1", "delivery", staff, ""); err != nil {
			t.Fatalf("round %d: jump to delivery: %v", round, err)
		}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := env.Engine.Approve(env.Ctx, "proj-1", "delivery", staff, "")
			if err != nil && !errors.Is(err, engine.ErrNotCurrentPhase) {
				t.Errorf("approve: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := env.Engine.JumpTo(env.Ctx, "proj-1", "review", staff, ""); err != nil {
				t.Errorf("jump back: %v", err)
			}
		}()
		wg.Wait()

		st := env.state(t)
		p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
		if err != nil {
			t.Fatal(err)
		}
		if st.Phase.Key != "review" || st.IsCompleted || p.Status != domain.ProjectStatusActive {
			t.Fatalf("round %d: phase=%s completed=%v status=%s", round, st.Phase.Key, st.IsCompleted, p.Status)
		}
	}
}

func TestNoIntermediateStateUnderConcurrentReads(t *testing.T) {
	env := newTestEnv(t)
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				st, err := env.Engine.GetCurrentState(env.Ctx, "proj-1")
				if err != nil {
					t.Errorf("read: %v", err)
					return
				}
				if st.PhaseIndex == 0 && st.AllRequiredComplete {
					t.Errorf("observed completed ledger without phase advance")
					return
				}
			}
		}()
	}
	env.mark(t, client, "complete_questionnaire")
	close(done)
	wg.Wait()
	if st := env.state(t); st.PhaseIndex != 1 {
		t.Fatalf("expected ideation, got %d", st.PhaseIndex)
	}
}

func TestDeleteProjectKeepsTracking(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.DeleteProject(env.Ctx, "proj-1", staff); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := env.Engine.GetCurrentState(env.Ctx, "proj-1")
	expectErr(t, err, engine.ErrProjectNotFound)
	if _, err := env.Engine.Repo.GetTracking(env.Ctx, "proj-1"); err != nil {
		t.Fatalf("tracking must survive soft delete: %v", err)
	}
	expectErr(t, env.Engine.DeleteProject(env.Ctx, "proj-1", staff), engine.ErrProjectNotFound)
}

func TestSideEffectFailuresDoNotFailOperation(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Notifier = notify.Func(func(context.Context, notify.Event) error {
		return errors.New("smtp down")
	})
	if _, err := env.Engine.Advance(env.Ctx, "proj-1", client, ""); err != nil {
		t.Fatalf("notifier failure leaked: %v", err)
	}
	entries, err := env.Engine.ActivityLog(env.Ctx, "proj-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	actions := map[string]bool{}
	for _, e := range entries {
		actions[e.Action] = true
	}
	if !actions["project_created"] || !actions["phase_advanced"] {
		t.Fatalf("expected activity entries, got %+v", entries)
	}
}
