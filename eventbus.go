package weft

import (
	"context"
	"sync"
)

// PlanException is published by the Stream Aggregator when the underlying
// model producer fails mid-stream.
type PlanException struct {
	PlanID string
	Cause  error
}

// EventBus is the minimal sink the core publishes aggregation failures to.
type EventBus interface {
	Publish(ctx context.Context, evt PlanException)
}

// InMemoryEventBus is the default EventBus: it retains published events for
// inspection and is safe for concurrent use.
type InMemoryEventBus struct {
	mu        sync.Mutex
	published []PlanException
}

// NewInMemoryEventBus returns an empty InMemoryEventBus.
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{}
}

func (b *InMemoryEventBus) Publish(_ context.Context, evt PlanException) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, evt)
}

// Events returns a copy of all events published so far.
func (b *InMemoryEventBus) Events() []PlanException {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PlanException, len(b.published))
	copy(out, b.published)
	return out
}

var _ EventBus = (*InMemoryEventBus)(nil)
