package catalog

import (
	"errors"
	"fmt"
	"sort"

	"studioflow/internal/domain"
)

// ErrInvalid marks a catalog that breaks its structural invariants.
var ErrInvalid = errors.New("catalog invalid")

// Catalog is the immutable, ordered set of phases and their actions.
type Catalog struct {
	phases  []domain.Phase
	byKey   map[string]int
	byID    map[string]int
	actions map[string][]domain.Action
	action  map[string]domain.Action
}

// New validates phases and actions and indexes them. When expected is
// positive the catalog must hold exactly that many phases.
func New(phases []domain.Phase, actions []domain.Action, expected int) (*Catalog, error) {
	if len(phases) == 0 {
		return nil, fmt.Errorf("%w: no phases", ErrInvalid)
	}
	if expected > 0 && len(phases) != expected {
		return nil, fmt.Errorf("%w: expected %d phases, found %d", ErrInvalid, expected, len(phases))
	}
	sorted := append([]domain.Phase(nil), phases...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })

	c := &Catalog{
		phases:  sorted,
		byKey:   make(map[string]int, len(sorted)),
		byID:    make(map[string]int, len(sorted)),
		actions: make(map[string][]domain.Action, len(sorted)),
		action:  make(map[string]domain.Action, len(actions)),
	}
	for i, p := range sorted {
		if p.OrderIndex != i {
			return nil, fmt.Errorf("%w: phase %s has order index %d, want %d", ErrInvalid, p.Key, p.OrderIndex, i)
		}
		if _, dup := c.byKey[p.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate phase key %s", ErrInvalid, p.Key)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate phase id %s", ErrInvalid, p.ID)
		}
		c.byKey[p.Key] = i
		c.byID[p.ID] = i
	}
	for _, a := range actions {
		if _, ok := c.byID[a.PhaseID]; !ok {
			return nil, fmt.Errorf("%w: action %s references unknown phase %s", ErrInvalid, a.Key, a.PhaseID)
		}
		if _, dup := c.action[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate action id %s", ErrInvalid, a.ID)
		}
		for _, other := range c.actions[a.PhaseID] {
			if other.Key == a.Key {
				return nil, fmt.Errorf("%w: duplicate action key %s in phase %s", ErrInvalid, a.Key, a.PhaseID)
			}
		}
		c.action[a.ID] = a
		c.actions[a.PhaseID] = append(c.actions[a.PhaseID], a)
	}
	for id := range c.actions {
		list := c.actions[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].OrderIndex < list[j].OrderIndex })
	}
	return c, nil
}

func (c *Catalog) Len() int { return len(c.phases) }

// Phases returns a copy of the ordered phase list.
func (c *Catalog) Phases() []domain.Phase {
	return append([]domain.Phase(nil), c.phases...)
}

func (c *Catalog) ByIndex(i int) (domain.Phase, bool) {
	if i < 0 || i >= len(c.phases) {
		return domain.Phase{}, false
	}
	return c.phases[i], true
}

func (c *Catalog) ByKey(key string) (domain.Phase, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return domain.Phase{}, false
	}
	return c.phases[i], true
}

func (c *Catalog) ByID(id string) (domain.Phase, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Phase{}, false
	}
	return c.phases[i], true
}

func (c *Catalog) Final() domain.Phase {
	return c.phases[len(c.phases)-1]
}

func (c *Catalog) IsFinal(index int) bool {
	return index == len(c.phases)-1
}

// Actions returns the actions of a phase in display order.
func (c *Catalog) Actions(phaseID string) []domain.Action {
	return append([]domain.Action(nil), c.actions[phaseID]...)
}

func (c *Catalog) RequiredActions(phaseID string) []domain.Action {
	var res []domain.Action
	for _, a := range c.actions[phaseID] {
		if a.IsRequired {
			res = append(res, a)
		}
	}
	return res
}

func (c *Catalog) ActionByID(id string) (domain.Action, bool) {
	a, ok := c.action[id]
	return a, ok
}

func (c *Catalog) ActionByKey(phaseID, key string) (domain.Action, bool) {
	for _, a := range c.actions[phaseID] {
		if a.Key == key {
			return a, true
		}
	}
	return domain.Action{}, false
}

// FindAction resolves ref as an action id, then as a key in preferPhaseID,
// then as a key unique across the whole catalog.
func (c *Catalog) FindAction(ref, preferPhaseID string) (domain.Action, bool) {
	if a, ok := c.action[ref]; ok {
		return a, true
	}
	if a, ok := c.ActionByKey(preferPhaseID, ref); ok {
		return a, true
	}
	var (
		found domain.Action
		n     int
	)
	for _, p := range c.phases {
		if a, ok := c.ActionByKey(p.ID, ref); ok {
			found = a
			n++
		}
	}
	return found, n == 1
}
