package ws

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/proctorwatch/backend/internal/log"
	"github.com/proctorwatch/backend/internal/metrics"
	"github.com/proctorwatch/backend/internal/session"
)

// Subscriber is one observer of a session topic. Alerts arrive on C in
// publish order. The channel is owned by the hub and closed on unsubscribe.
type Subscriber struct {
	C chan AlertPayload

	topic string
}

// Hub fans confirmed events out to all current subscribers of a session
// topic. Delivery is best-effort and at-most-once: there is no history, a
// subscriber that joins after a publish never sees it, and a subscriber too
// slow to drain its buffer loses the alert rather than stalling the
// publisher. Per-topic publish order is preserved because the registry
// serializes publishes per session.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscriber]bool
	buffer int
	logger zerolog.Logger
}

// NewHub creates a hub with the given per-subscriber buffer size.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		topics: make(map[string]map[*Subscriber]bool),
		buffer: buffer,
		logger: log.WithComponent("hub"),
	}
}

// Subscribe registers a new observer on the session topic.
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		C:     make(chan AlertPayload, h.buffer),
		topic: sessionID,
	}

	h.mu.Lock()
	subs, ok := h.topics[sessionID]
	if !ok {
		subs = make(map[*Subscriber]bool)
		h.topics[sessionID] = subs
	}
	subs[sub] = true
	h.mu.Unlock()

	return sub
}

// Unsubscribe removes the observer and closes its channel. Safe to call
// once per subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	subs, ok := h.topics[sub.topic]
	if ok && subs[sub] {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
		close(sub.C)
	}
	h.mu.Unlock()
}

// Publish delivers a confirmed event to every current subscriber of the
// session topic. Never blocks: a full subscriber buffer drops the alert.
func (h *Hub) Publish(sessionID string, ev session.Event) {
	alert := alertFromEvent(ev)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.topics[sessionID] {
		select {
		case sub.C <- alert:
			metrics.AlertsPublished.Inc()
		default:
			metrics.AlertsDropped.Inc()
			h.logger.Warn().Str("session_id", sessionID).Msg("subscriber full, alert dropped")
		}
	}
}

// SubscriberCount returns the number of observers on a topic.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[sessionID])
}
