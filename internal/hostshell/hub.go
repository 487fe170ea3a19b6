// Package hostshell is the in-process host the relay broadcasts into: an event
// hub that fans each emitted event out to local listeners, plus the small set
// of commands the frontend may invoke.
package hostshell

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrEncode          = errors.New("hostshell: payload is not serialisable")
	ErrListenerLagging = errors.New("hostshell: listener buffer full, event dropped")
)

const DefaultListenerBuffer = 64

// Event is one broadcast as a listener sees it.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Seq     uint64          `json:"seq"`
	At      time.Time       `json:"at"`
}

type listener struct {
	event string
	ch    chan Event
}

// Hub delivers emitted events to listeners without ever blocking the emitter.
type Hub struct {
	buffer int
	now    func() time.Time

	mu        sync.RWMutex
	seq       uint64
	listeners map[*listener]struct{}
}

type HubOption func(*Hub)

func WithListenerBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		buffer:    DefaultListenerBuffer,
		now:       time.Now,
		listeners: map[*listener]struct{}{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Emit serialises payload once and offers it to every listener of event.
// With no listeners it is a no-op. A listener whose buffer is full misses
// the event and Emit reports ErrListenerLagging after delivering to the rest.
func (h *Hub) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	h.mu.Lock()
	h.seq++
	evt := Event{Name: event, Payload: raw, Seq: h.seq, At: h.now().UTC()}
	lagging := 0
	for l := range h.listeners {
		if l.event != "" && l.event != event {
			continue
		}
		select {
		case l.ch <- evt:
		default:
			lagging++
		}
	}
	h.mu.Unlock()

	if lagging > 0 {
		return fmt.Errorf("%w (%d listeners)", ErrListenerLagging, lagging)
	}
	return nil
}

// Listen registers a listener for event, or for every event when event is
// empty. The returned cancel unregisters it and closes the channel.
func (h *Hub) Listen(event string) (<-chan Event, func()) {
	l := &listener{event: event, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, l)
			close(l.ch)
			h.mu.Unlock()
		})
	}
	return l.ch, cancel
}

// Listeners reports how many listeners are registered.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
