package engine

import (
	"sync"
	"time"
)

// Event types emitted after a successful write.
const (
	EventRelationshipCreated = "relationship_created"
	EventRelationshipUpdated = "relationship_updated"
	EventRelationshipDeleted = "relationship_deleted"
	EventDescendantsMarked   = "descendants_marked"
)

// Event describes a committed change to the graph or its review flags.
type Event struct {
	Type       string    `json:"type"`
	DocumentID string    `json:"document_id,omitempty"`
	Data       any       `json:"data,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Observer receives engine events. Notify is called synchronously after the
// transaction commits and must not block.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Notify calls f(ev).
func (f ObserverFunc) Notify(ev Event) { f(ev) }

type eventBus struct {
	mu        sync.RWMutex
	observers []Observer
}

// Subscribe registers o for every subsequent event.
func (e *Engine) Subscribe(o Observer) {
	e.events.mu.Lock()
	e.events.observers = append(e.events.observers, o)
	e.events.mu.Unlock()
}

func (e *Engine) emit(typ, docID string, data any) {
	e.events.mu.RLock()
	observers := e.events.observers
	e.events.mu.RUnlock()

	if len(observers) == 0 {
		return
	}
	ev := Event{Type: typ, DocumentID: docID, Data: data, Timestamp: e.now().UTC()}
	for _, o := range observers {
		o.Notify(ev)
	}
}
