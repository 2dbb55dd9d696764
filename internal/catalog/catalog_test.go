package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studioflow/internal/config"
	"studioflow/internal/db"
	"studioflow/internal/domain"
	"studioflow/internal/migrate"
	"studioflow/internal/repo"
)

func phases(keys ...string) []domain.Phase {
	res := make([]domain.Phase, len(keys))
	for i, k := range keys {
		res[i] = domain.Phase{ID: PhaseID(k), Key: k, Name: k, OrderIndex: i}
	}
	return res
}

func TestNewRejectsIndexGap(t *testing.T) {
	ps := phases("a", "b", "c")
	ps[2].OrderIndex = 3
	_, err := New(ps, nil, 0)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestNewRejectsDuplicateKey(t *testing.T) {
	ps := phases("a", "b")
	ps[1].Key = "a"
	_, err := New(ps, nil, 0)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestNewRejectsOrphanAction(t *testing.T) {
	_, err := New(phases("a"), []domain.Action{{ID: "x", PhaseID: "missing", Key: "x"}}, 0)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestNewRejectsWrongCount(t *testing.T) {
	_, err := New(phases("a", "b"), nil, 8)
	require.True(t, errors.Is(err, ErrInvalid))
}

func TestLookups(t *testing.T) {
	ps := phases("a", "b", "c")
	actions := []domain.Action{
		{ID: "a2", PhaseID: ps[0].ID, Key: "second", OrderIndex: 1},
		{ID: "a1", PhaseID: ps[0].ID, Key: "first", IsRequired: true, OrderIndex: 0},
		{ID: "c1", PhaseID: ps[2].ID, Key: "first", IsRequired: true},
		{ID: "c2", PhaseID: ps[2].ID, Key: "only_c"},
	}
	c, err := New(ps, actions, 3)
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())
	require.Equal(t, "c", c.Final().Key)
	require.True(t, c.IsFinal(2))

	p, ok := c.ByKey("b")
	require.True(t, ok)
	require.Equal(t, 1, p.OrderIndex)
	_, ok = c.ByIndex(3)
	require.False(t, ok)

	list := c.Actions(ps[0].ID)
	require.Equal(t, "first", list[0].Key)
	require.Len(t, c.RequiredActions(ps[0].ID), 1)
	require.Empty(t, c.RequiredActions(ps[1].ID))

	a, ok := c.FindAction("first", ps[2].ID)
	require.True(t, ok)
	require.Equal(t, "c1", a.ID)
	_, ok = c.FindAction("first", ps[1].ID)
	require.False(t, ok, "ambiguous key outside the preferred phase")
	a, ok = c.FindAction("only_c", ps[0].ID)
	require.True(t, ok)
	require.Equal(t, "c2", a.ID)
	a, ok = c.FindAction("a2", "")
	require.True(t, ok)
	require.Equal(t, "second", a.Key)
}

func TestSeedAndLoad(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	cfg := config.Default()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, Seed(ctx, conn, cfg, now))
	require.NoError(t, Seed(ctx, conn, cfg, now), "seed must be idempotent")

	c, err := Load(ctx, conn, config.PhaseCount)
	require.NoError(t, err)
	require.Equal(t, config.PhaseCount, c.Len())
	first, _ := c.ByIndex(0)
	require.Equal(t, "onboarding", first.Key)
	require.Equal(t, PhaseID("onboarding"), first.ID)
	pay, ok := c.ByKey("payment")
	require.True(t, ok)
	require.True(t, pay.IsSystemPhase)
	prod, _ := c.ByKey("production")
	require.False(t, prod.RequiresClientAction)
	require.Len(t, c.RequiredActions(first.ID), 1)

	store := repo.Repo{DB: conn}
	rules, err := store.ListRules(ctx, "")
	require.NoError(t, err)
	require.Len(t, rules, config.PhaseCount)

	// an edited rule survives a re-seed
	rule := rules[0]
	rule.IsActive = false
	require.NoError(t, store.UpdateRule(ctx, rule))
	require.NoError(t, Seed(ctx, conn, cfg, now))
	got, err := store.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
}
