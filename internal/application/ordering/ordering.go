// Package ordering applies display-order changes optimistically: the new
// order is visible immediately and the previous snapshot is restored if the
// store rejects the change.
package ordering

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"admin-console/internal/domain"
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Up, Down:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("direction %q: %w", s, domain.ErrInvalidInput)
	}
}

type Item struct {
	ID    int64 `json:"id"`
	Order int   `json:"display_order"`
}

// Snapshot is an ordered list of items. Operations return new snapshots and
// never modify the receiver.
type Snapshot []Item

func NewSnapshot(items []Item) Snapshot {
	s := append(Snapshot(nil), items...)
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Order != s[j].Order {
			return s[i].Order < s[j].Order
		}
		return s[i].ID < s[j].ID
	})
	return s
}

func (s Snapshot) index(id int64) int {
	for i, item := range s {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// Move swaps the display order of id with its neighbour in dir. Moving the
// first item up or the last item down changes nothing.
func (s Snapshot) Move(id int64, dir Direction) (Snapshot, []domain.OrderChange, error) {
	i := s.index(id)
	if i < 0 {
		return s, nil, domain.ErrNotFound
	}
	j := i - 1
	if dir == Down {
		j = i + 1
	}
	if j < 0 || j >= len(s) {
		return s, nil, nil
	}
	next := append(Snapshot(nil), s...)
	next[i].Order, next[j].Order = s[j].Order, s[i].Order
	changes := []domain.OrderChange{
		{ID: next[i].ID, DisplayOrder: next[i].Order},
		{ID: next[j].ID, DisplayOrder: next[j].Order},
	}
	return NewSnapshot(next), changes, nil
}

// Renumber orders items as listed in ids, starting at 1. ids must name every
// item exactly once. Only items whose order changes are reported.
func (s Snapshot) Renumber(ids []int64) (Snapshot, []domain.OrderChange, error) {
	if len(ids) != len(s) {
		return s, nil, fmt.Errorf("expected %d ids, got %d: %w", len(s), len(ids), domain.ErrInvalidInput)
	}
	seen := make(map[int64]bool, len(ids))
	next := make(Snapshot, 0, len(ids))
	var changes []domain.OrderChange
	for pos, id := range ids {
		i := s.index(id)
		if i < 0 || seen[id] {
			return s, nil, fmt.Errorf("id %d: %w", id, domain.ErrInvalidInput)
		}
		seen[id] = true
		order := pos + 1
		if s[i].Order != order {
			changes = append(changes, domain.OrderChange{ID: id, DisplayOrder: order})
		}
		next = append(next, Item{ID: id, Order: order})
	}
	return next, changes, nil
}

// Command is one optimistic change. Load, when set, supplies the snapshot
// the change applies to; otherwise the board's current snapshot is used.
type Command struct {
	Load   func(ctx context.Context) (Snapshot, error)
	Apply  func(Snapshot) (Snapshot, []domain.OrderChange, error)
	Commit func(ctx context.Context, changes []domain.OrderChange) error
}

// Board holds the visible snapshot. Commands run one at a time; readers see
// the speculative snapshot while a commit is in flight.
type Board struct {
	exec    sync.Mutex
	mu      sync.RWMutex
	current Snapshot
}

func (b *Board) Current() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

func (b *Board) set(s Snapshot) {
	b.mu.Lock()
	b.current = s
	b.mu.Unlock()
}

// Execute applies cmd speculatively and commits it. If the commit fails the
// prior snapshot is restored and returned with the error.
func (b *Board) Execute(ctx context.Context, cmd Command) (Snapshot, error) {
	b.exec.Lock()
	defer b.exec.Unlock()

	if cmd.Load != nil {
		loaded, err := cmd.Load(ctx)
		if err != nil {
			return b.Current(), err
		}
		b.set(loaded)
	}
	prev := b.Current()
	next, changes, err := cmd.Apply(prev)
	if err != nil {
		return prev, err
	}
	if len(changes) == 0 {
		return prev, nil
	}
	b.set(next)
	if err := cmd.Commit(ctx, changes); err != nil {
		b.set(prev)
		return prev, err
	}
	return next, nil
}
