package service

import (
	"sync"

	"github.com/example/agentplan/internal/domain"
)

// EventBroadcaster fans plan/node events out to subscribers. Channels are
// buffered; a subscriber that stops draining loses events rather than
// stalling the coordinator.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// Subscriber is a single subscription. A non-empty PlanID filters to one
// plan's events.
type Subscriber struct {
	PlanID string
	Events chan domain.Event
	Done   chan struct{}
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a subscriber; planID "" receives every plan's events.
func (b *EventBroadcaster) Subscribe(planID string) *Subscriber {
	sub := &Subscriber{
		PlanID: planID,
		Events: make(chan domain.Event, 100),
		Done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its Done channel.
func (b *EventBroadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
	close(sub.Done)
}

// Publish delivers an event to every matching subscriber without blocking.
func (b *EventBroadcaster) Publish(evt domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		if sub.PlanID != "" && sub.PlanID != evt.EventPlanID() {
			continue
		}
		select {
		case sub.Events <- evt:
		default:
			// Slow subscriber; drop rather than stall the coordinator.
		}
	}
}
