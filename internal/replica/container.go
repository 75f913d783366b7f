package replica

import (
	"sync"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/remote"
)

// Container holds the current replica. Readers get immutable snapshots and
// every change is a whole-state transition, so concurrent flows never observe
// a partially applied update.
type Container struct {
	updateMu sync.Mutex // serializes transitions and their notifications

	mu        sync.RWMutex
	state     domain.State
	version   uint64
	nextID    int
	listeners map[int]func(domain.State)
}

// NewContainer creates a container holding initial.
func NewContainer(initial domain.State) *Container {
	return &Container{
		state:     initial,
		listeners: make(map[int]func(domain.State)),
	}
}

// Snapshot returns the current state. Callers must not modify its maps.
func (c *Container) Snapshot() domain.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Version is incremented on every successful transition.
func (c *Container) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Update applies fn to the current state as one transition. When fn fails the
// state is left unchanged. Listeners run after the new state is published and
// must not call Update themselves.
func (c *Container) Update(fn func(domain.State) (domain.State, error)) (domain.State, error) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	next, err := fn(c.Snapshot())
	if err != nil {
		return c.Snapshot(), err
	}

	c.mu.Lock()
	c.state = next
	c.version++
	fns := make([]func(domain.State), 0, len(c.listeners))
	for _, l := range c.listeners {
		fns = append(fns, l)
	}
	c.mu.Unlock()

	for _, l := range fns {
		l(next)
	}
	return next, nil
}

// Apply folds snaps into the current state as a single transition.
func (c *Container) Apply(snaps ...remote.Snapshot) (domain.State, error) {
	return c.Update(func(s domain.State) (domain.State, error) {
		return Apply(s, snaps...)
	})
}

// Subscribe registers fn to receive every published state.
func (c *Container) Subscribe(fn func(domain.State)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}
