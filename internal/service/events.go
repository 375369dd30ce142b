package service

import (
	"sync"
	"time"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

// WorkflowEvent is an upload status change sent to live subscribers.
type WorkflowEvent struct {
	UploadID string              `json:"upload_id"`
	Domain   string              `json:"knowledge_domain"`
	Status   domain.UploadStatus `json:"status"`
	Tally    *domain.Tally       `json:"tally,omitempty"`
	Actor    string              `json:"actor"`
	At       time.Time           `json:"at"`
}

// EventBus broadcasts workflow events to subscribers. Slow subscribers
// miss events rather than block the publisher.
type EventBus struct {
	mu   sync.RWMutex
	subs []chan WorkflowEvent
}

// NewEventBus creates an event bus with no subscribers.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Publish delivers evt to every subscriber with room in its buffer.
func (b *EventBus) Publish(evt WorkflowEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The channel buffers 16 events.
func (b *EventBus) Subscribe() chan WorkflowEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan WorkflowEvent, 16)
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored, so
// calling it twice is safe.
func (b *EventBus) Unsubscribe(ch chan WorkflowEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(ch)
			return
		}
	}
}
