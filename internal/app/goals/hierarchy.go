// Package goals resolves the goal cascade (vision → 3yr → 1yr → monthly →
// weekly) generically over a level tag, so consumers never branch on level.
package goals

import (
	"context"

	"github.com/cascade-app/cascade/internal/domain"
)

// Store is the read side of the goal subsystem.
type Store interface {
	ListGoals(ctx context.Context, userID string) ([]domain.Goal, error)
}

// Tree is an in-memory snapshot of one user's cascade.
// Per-user goal counts are small, so the whole tree is loaded at once.
type Tree struct {
	byID map[string]domain.Goal
}

// Load reads every goal of a user into a Tree.
func Load(ctx context.Context, store Store, userID string) (*Tree, error) {
	list, err := store.ListGoals(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewTree(list), nil
}

// NewTree builds a tree from goal rows.
func NewTree(list []domain.Goal) *Tree {
	t := &Tree{byID: make(map[string]domain.Goal, len(list))}
	for _, g := range list {
		t.byID[g.ID] = g
	}
	return t
}

// Get returns a goal by ID.
func (t *Tree) Get(id string) (domain.Goal, bool) {
	g, ok := t.byID[id]
	return g, ok
}

// AncestorChain returns the goal followed by its ancestors up to the root.
// Cycles in bad data stop the walk instead of looping.
func (t *Tree) AncestorChain(id string) []domain.Goal {
	var chain []domain.Goal
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		g, ok := t.byID[id]
		if !ok {
			break
		}
		seen[id] = true
		chain = append(chain, g)
		id = g.ParentID
	}
	return chain
}

// Category returns the nearest life area set on the goal or an ancestor.
func (t *Tree) Category(id string) domain.LifeArea {
	for _, g := range t.AncestorChain(id) {
		if g.Category != "" {
			return g.Category
		}
	}
	return ""
}

// IsActive reports whether the goal exists and is ACTIVE.
func (t *Tree) IsActive(id string) bool {
	g, ok := t.byID[id]
	return ok && g.Status == domain.GoalActive
}

// ActiveByLevel counts active goals per cascade level.
func (t *Tree) ActiveByLevel() map[domain.GoalLevel]int {
	counts := make(map[domain.GoalLevel]int, len(domain.GoalLevels))
	for _, g := range t.byID {
		if g.Status == domain.GoalActive && g.Level.Depth() >= 0 {
			counts[g.Level]++
		}
	}
	return counts
}

// LevelsCovered returns how many cascade levels have at least one active goal.
func (t *Tree) LevelsCovered() int {
	n := 0
	counts := t.ActiveByLevel()
	for _, lvl := range domain.GoalLevels {
		if counts[lvl] > 0 {
			n++
		}
	}
	return n
}

// ValidateParent checks that parent sits exactly one level above child.
// A nil parent is allowed at any level; such goals have a one-element chain.
func ValidateParent(child domain.GoalLevel, parent *domain.Goal) error {
	if child.Depth() < 0 {
		return domain.ErrInvalidInput
	}
	if parent == nil {
		return nil
	}
	want, hasParent := child.Parent()
	if !hasParent || parent.Level != want {
		return domain.ErrInvalidInput
	}
	return nil
}
