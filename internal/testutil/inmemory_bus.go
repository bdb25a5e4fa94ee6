package testutil

import (
	"context"
	"sync"

	"github.com/dynacloud/killbill/internal/types"
)

// InMemoryEventBus implements bus.EventBus, recording every posted event
// for assertions.
type InMemoryEventBus struct {
	mu     sync.Mutex
	events []*types.BusEvent
}

func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{}
}

func (b *InMemoryEventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

func (b *InMemoryEventBus) Post(_ context.Context, event *types.BusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

// Events returns all posted events in order.
func (b *InMemoryEventBus) Events() []*types.BusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.BusEvent, len(b.events))
	copy(out, b.events)
	return out
}

// EventsNamed returns the posted events with the given name.
func (b *InMemoryEventBus) EventsNamed(name string) []*types.BusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*types.BusEvent
	for _, e := range b.events {
		if e.EventName == name {
			out = append(out, e)
		}
	}
	return out
}
