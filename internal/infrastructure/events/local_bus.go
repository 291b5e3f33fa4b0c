package events

import (
	"context"
	"sort"
	"sync"

	"admin-console/internal/ports"
)

// LocalBus delivers auth events synchronously to in-process subscribers, in
// subscription order. Subscribers run outside the bus lock and may
// unsubscribe from within a callback.
type LocalBus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(ports.AuthEvent)
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: map[int]func(ports.AuthEvent){}}
}

func (b *LocalBus) Publish(_ context.Context, event ports.AuthEvent) error {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(ports.AuthEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
	return nil
}

func (b *LocalBus) Subscribe(fn func(ports.AuthEvent)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *LocalBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

var _ ports.AuthEventBus = (*LocalBus)(nil)
