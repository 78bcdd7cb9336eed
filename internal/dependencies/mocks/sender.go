package mocks

import (
	"sync"

	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/realtime"
)

// EventRecorder is a Sender that keeps every event per connection
type EventRecorder struct {
	mu     sync.Mutex
	events map[model.ConnID][]model.Event
}

// Ensure EventRecorder implements Sender
var _ realtime.Sender = (*EventRecorder)(nil)

// NewEventRecorder creates a new EventRecorder
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{events: make(map[model.ConnID][]model.Event)}
}

// Send records the event
func (r *EventRecorder) Send(conn model.ConnID, event model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[conn] = append(r.events[conn], event)
}

// Events returns the events sent to conn in order
func (r *EventRecorder) Events(conn model.ConnID) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events[conn]...)
}

// Types returns the types of the events sent to conn in order
func (r *EventRecorder) Types(conn model.ConnID) []model.EventType {
	events := r.Events(conn)
	types := make([]model.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

// Last returns the most recent event sent to conn
func (r *EventRecorder) Last(conn model.ConnID) (model.Event, bool) {
	events := r.Events(conn)
	if len(events) == 0 {
		return model.Event{}, false
	}
	return events[len(events)-1], true
}

// Reset forgets all recorded events
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = make(map[model.ConnID][]model.Event)
}
