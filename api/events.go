package api

import (
	"sync"

	"patrol-hub/core/incident"
)

type EventKind string

const (
	EventUnviewedChanged EventKind = "unviewed_changed"
	EventNewIncident     EventKind = "new_incident"
)

type Event struct {
	Kind     EventKind         `json:"kind"`
	Count    int               `json:"count"`
	Unviewed []incident.Record `json:"unviewed,omitempty"`
	Added    []incident.Record `json:"added,omitempty"`
}

// EventHub fans tracker callbacks out to any number of SSE connections.
// Slow consumers drop events rather than stalling the tracker: each change
// event carries the full current state, so a dropped one is superseded by
// the next.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subs: map[chan Event]struct{}{}}
}

// Subscribe returns a receive channel and a cancel func that must be called
// when the connection goes away.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *EventHub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
