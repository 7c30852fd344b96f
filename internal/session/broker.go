package session

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventState        = "state"
	EventGeofence     = "geofence"
	EventStopChanged  = "stop_changed"
	EventAudio        = "audio"
	EventLocation     = "location"
	EventTourComplete = "tour_complete"
	EventClosed       = "closed"
)

// Event is the payload published to session subscribers.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	At        time.Time `json:"at"`
	Data      any       `json:"data,omitempty"`
}

// Broker is an in-process pub/sub for session events, keyed by session ID.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives JSON-encoded events for the given session.
func (b *Broker) Subscribe(sessionID string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan []byte]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel from the session's subscribers.
func (b *Broker) Unsubscribe(sessionID string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[sessionID], ch)
	if len(b.subs[sessionID]) == 0 {
		delete(b.subs, sessionID)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers of the event's session.
func (b *Broker) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	b.mu.RLock()
	for ch := range b.subs[event.SessionID] {
		select {
		case ch <- data:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
}
