package history

import (
	"context"
	"testing"
	"time"

	"studioflow/internal/catalog"
	"studioflow/internal/config"
	"studioflow/internal/db"
	"studioflow/internal/domain"
	"studioflow/internal/migrate"
	"studioflow/internal/repo"
)

func setup(t *testing.T) (*db.DB, Recorder) {
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
	if err := catalog.Seed(ctx, conn, config.Default(), time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := repo.Repo{DB: conn}
	if err := r.UpsertUser(ctx, nil, domain.User{ID: "client-1", DisplayName: "Client One"}); err != nil {
		t.Fatalf("user: %v", err)
	}
	tx, err := conn.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	project := domain.Project{ID: "p1", Name: "Rebrand", OwnerID: "client-1", Status: domain.ProjectStatusActive, CreatedAt: "2026-03-01T08:00:00Z"}
	if err := r.InsertProject(ctx, tx, project); err != nil {
		t.Fatalf("project: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return conn, Recorder{DB: conn, Now: func() time.Time { return clock }}
}

func appendAll(t *testing.T, conn *db.DB, rec Recorder, entries ...domain.Transition) []domain.Transition {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	var out []domain.Transition
	for _, e := range entries {
		saved, err := rec.Append(ctx, tx, e)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		out = append(out, saved)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return out
}

func TestAppendAssignsSequence(t *testing.T) {
	conn, rec := setup(t)
	onboarding := catalog.PhaseID("onboarding")
	ideation := catalog.PhaseID("ideation")

	saved := appendAll(t, conn, rec,
		domain.Transition{ProjectID: "p1", ToPhaseID: onboarding, TransitionedBy: "client-1", Reason: "Project created"},
		domain.Transition{ProjectID: "p1", FromPhaseID: &onboarding, ToPhaseID: ideation, TransitionedBy: "system", Reason: "Auto-advanced"},
	)
	if saved[0].Seq != 1 || saved[1].Seq != 2 {
		t.Fatalf("expected seq 1,2 got %d,%d", saved[0].Seq, saved[1].Seq)
	}
	if saved[0].ID == "" || saved[0].CreatedAt != "2026-03-01T09:00:00Z" {
		t.Fatalf("unexpected defaults %+v", saved[0])
	}

	views, err := rec.List(context.Background(), "p1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(views))
	}
	newest := views[0]
	if newest.Seq != 2 || newest.FromPhaseKey != "onboarding" || newest.ToPhaseKey != "ideation" || newest.ActorName != "System" {
		t.Fatalf("unexpected newest entry %+v", newest)
	}
	if views[1].FromPhaseKey != "" || views[1].ActorName != "Client One" {
		t.Fatalf("unexpected first entry %+v", views[1])
	}
}

func TestListPaginates(t *testing.T) {
	conn, rec := setup(t)
	phase := catalog.PhaseID("onboarding")
	var entries []domain.Transition
	for i := 0; i < 5; i++ {
		entries = append(entries, domain.Transition{ProjectID: "p1", ToPhaseID: phase, TransitionedBy: "client-1", Reason: "step"})
	}
	appendAll(t, conn, rec, entries...)

	ctx := context.Background()
	page, err := rec.List(ctx, "p1", 2, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Seq != 2 || page[1].Seq != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	rest, err := rec.List(ctx, "p1", 0, 2)
	if err != nil {
		t.Fatalf("list without limit: %v", err)
	}
	if len(rest) != 3 || rest[0].Seq != 3 || rest[2].Seq != 1 {
		t.Fatalf("expected seq 3..1 after skipping two, got %+v", rest)
	}
	total, err := rec.Count(ctx, "p1")
	if err != nil || total != 5 {
		t.Fatalf("count: %d %v", total, err)
	}
	empty, err := rec.List(ctx, "other", 10, 0)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v %v", empty, err)
	}
}

func TestAppendRejectsIncompleteEntries(t *testing.T) {
	conn, rec := setup(t)
	ctx := context.Background()
	tx, err := conn.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if _, err := rec.Append(ctx, tx, domain.Transition{ProjectID: "p1", TransitionedBy: "x"}); err == nil {
		t.Fatalf("expected error without target phase")
	}
	if _, err := rec.Append(ctx, tx, domain.Transition{ProjectID: "p1", ToPhaseID: catalog.PhaseID("design")}); err == nil {
		t.Fatalf("expected error without actor")
	}
}
