package sweep

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// EventKind discriminates the three notification kinds the controller emits.
type EventKind string

const (
	// EventProgress is emitted after the buffer row for one sweep point has
	// been written. Point carries the index.
	EventProgress EventKind = "progress"
	// EventRepetitionDone is emitted after a full pass over all sweep points.
	// Repetition carries the 1-based repetition number.
	EventRepetitionDone EventKind = "repetition_done"
	// EventLog carries a severity-tagged user-facing message.
	EventLog EventKind = "log"
)

// Severity tags log events.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one outbound notification from the acquisition controller.
type Event struct {
	Kind       EventKind `json:"kind"`
	Time       time.Time `json:"time"`
	Point      int       `json:"point,omitempty"`
	Repetition int       `json:"repetition,omitempty"`
	Severity   Severity  `json:"severity,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this starts losing events rather than blocking
// the acquisition goroutine.
const subscriberBuffer = 64

// Hub fans events out to zero or more subscribers. Emission order is
// preserved per subscriber; delivery to a full subscriber channel is dropped
// so a slow consumer can never stall the sweep.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	closed      bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan Event)}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new consumer and returns its ID and receive channel.
// The channel is closed on Unsubscribe or hub Close.
func (h *Hub) Subscribe() (string, <-chan Event) {
	id := randomID()
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish delivers e to every subscriber without blocking.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- e:
		default:
			// subscriber is saturated; skip rather than block the sweep
		}
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
