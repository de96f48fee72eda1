// ABOUTME: State-change notifications for engine handles
// ABOUTME: Subscribers are called synchronously, in subscription order, outside any manager lock

package manager

import (
	"sort"
	"sync"
	"time"
)

// StateChange describes one handle transition.
type StateChange struct {
	EngineID string
	From     State
	To       State
	At       time.Time
	Err      error
}

type stateBus struct {
	mu       sync.RWMutex
	handlers map[int]func(StateChange)
	nextID   int
}

func newStateBus() *stateBus {
	return &stateBus{handlers: make(map[int]func(StateChange))}
}

func (b *stateBus) subscribe(fn func(StateChange)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

func (b *stateBus) publish(ev StateChange) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	snapshot := make([]func(StateChange), len(ids))
	for i, id := range ids {
		snapshot[i] = b.handlers[id]
	}
	b.mu.RUnlock()

	for _, fn := range snapshot {
		fn(ev)
	}
}
