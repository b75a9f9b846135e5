// Package hub fans session events out to streaming subscribers. Each
// session has an independent subscriber set; publishing never blocks on a
// slow or dead subscriber, and destroying a session tears down all of its
// subscriptions.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parapr/parapr/internal/session"
)

// Event types delivered to subscribers.
const (
	EventOutput     = "output"
	EventState      = "state"
	EventAutoAccept = "auto_accept"
	EventAttention  = "attention"
	EventDestroyed  = "destroyed"
)

// Event is one update on a session's stream.
type Event struct {
	Type           string        `json:"type"`
	Ticket         string        `json:"ticket"`
	Content        string        `json:"content,omitempty"`
	Stage          session.Stage `json:"stage,omitempty"`
	Mode           session.Mode  `json:"mode,omitempty"`
	NeedsAttention bool          `json:"needs_attention"`
	AutoAccepted   bool          `json:"auto_accepted,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// subscriberBuffer is how many events a subscriber can lag before
// publishes to it start dropping.
const subscriberBuffer = 64

// Subscription is one subscriber's handle on a session stream.
type Subscription struct {
	// ID uniquely identifies this subscription for unsubscribe.
	ID uuid.UUID
	// Events delivers the session's events. It is closed when the
	// subscription is removed or the session is destroyed.
	Events chan Event

	ticket string
	once   sync.Once
}

// close closes the event channel exactly once.
func (s *Subscription) close() {
	s.once.Do(func() { close(s.Events) })
}

// Hub routes events from the engine to per-session subscriber sets.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[uuid.UUID]*Subscription
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[string]map[uuid.UUID]*Subscription)}
}

// Subscribe registers a new subscriber for a session's events.
// Subscribing to a ticket with no live session is allowed; the stream
// stays silent until events appear.
func (h *Hub) Subscribe(ticket string) *Subscription {
	sub := &Subscription{
		ID:     uuid.New(),
		Events: make(chan Event, subscriberBuffer),
		ticket: ticket,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[ticket] == nil {
		h.subs[ticket] = make(map[uuid.UUID]*Subscription)
	}
	h.subs[ticket][sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
// Unsubscribing twice is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	if set, ok := h.subs[sub.ticket]; ok {
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(h.subs, sub.ticket)
		}
	}
	h.mu.Unlock()

	sub.close()
}

// Publish delivers an event to every subscriber of a session. Subscribers
// whose buffers are full miss the event rather than stalling the
// publisher; zero subscribers means the event is simply discarded.
func (h *Hub) Publish(ticket string, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.Ticket = ticket

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs[ticket] {
		select {
		case sub.Events <- ev:
		default:
			// Subscriber is not keeping up; drop this event for it.
		}
	}
}

// CloseSession removes every subscription for a session, closing their
// channels. Called when the session is destroyed.
func (h *Hub) CloseSession(ticket string) {
	h.mu.Lock()
	set := h.subs[ticket]
	delete(h.subs, ticket)
	h.mu.Unlock()

	for _, sub := range set {
		sub.close()
	}
}

// SubscriberCount returns how many subscribers a session currently has.
func (h *Hub) SubscriberCount(ticket string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ticket])
}
