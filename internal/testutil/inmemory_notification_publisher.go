package testutil

import (
	"context"
	"sync"

	"github.com/hirewire/billing/internal/notification"
	"github.com/hirewire/billing/internal/types"
)

// InMemoryNotificationPublisher implements notification.Publisher and records
// published events so tests can assert on them.
type InMemoryNotificationPublisher struct {
	mu     sync.RWMutex
	events []*notification.Event
}

var _ notification.Publisher = (*InMemoryNotificationPublisher)(nil)

// NewInMemoryNotificationPublisher creates a new capture publisher
func NewInMemoryNotificationPublisher() *InMemoryNotificationPublisher {
	return &InMemoryNotificationPublisher{}
}

func (p *InMemoryNotificationPublisher) Publish(ctx context.Context, event *notification.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *InMemoryNotificationPublisher) Close() error {
	return nil
}

// Events returns all published events in publish order
func (p *InMemoryNotificationPublisher) Events() []*notification.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()

	events := make([]*notification.Event, len(p.events))
	copy(events, p.events)
	return events
}

// EventsOfType returns the published events of the given type in publish order
func (p *InMemoryNotificationPublisher) EventsOfType(eventType types.NotificationType) []*notification.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result []*notification.Event
	for _, event := range p.events {
		if event.Type == eventType {
			result = append(result, event)
		}
	}
	return result
}

// HasEventOfType checks if at least one event of the given type was published
func (p *InMemoryNotificationPublisher) HasEventOfType(eventType types.NotificationType) bool {
	return len(p.EventsOfType(eventType)) > 0
}

// Clear removes all recorded events
func (p *InMemoryNotificationPublisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}
