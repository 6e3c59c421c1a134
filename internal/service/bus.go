package service

import (
	"sync"
	"sync/atomic"

	"github.com/joeblew999/plat-defects/internal/defect"
)

// Defect event actions.
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionDeleted  = "deleted"
	ActionImported = "imported"
)

// Event describes one change to the defect table.
type Event struct {
	Resource string         `json:"resource"`
	Action   string         `json:"action"`
	ID       int64          `json:"id,omitempty"`
	Defect   *defect.Defect `json:"defect,omitempty"`
	// Count is the number of rows stored by an import.
	Count int `json:"count,omitempty"`
}

func defectEvent(action string, d *defect.Defect) Event {
	e := Event{Resource: "defects", Action: action, Defect: d}
	if d != nil {
		e.ID = d.ID
	}
	return e
}

// subscriberBuffer is the queue length of each subscription. A subscriber
// that falls this far behind misses events.
const subscriberBuffer = 64

// EventBus fans defect events out to in-process subscribers such as the
// Kafka forwarder and the metrics observer. Publishing never blocks.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	dropped atomic.Int64
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish delivers e to every subscriber with room in its queue.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber. Callers must Unsubscribe.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch and closes it.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Subscribers returns the number of registered subscribers.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped on full queues.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

// DefaultBus carries the events of every DefectService built without WithBus.
var DefaultBus = NewEventBus()
