package engine

import (
	"log/slog"
	"sync"
)

// Hub maintains topic subscriptions for the connections of one App.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*wsConn]bool
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		topics: make(map[string]map[*wsConn]bool),
		logger: logger,
	}
}

// subscribe adds c to topic. It reports false if c was already subscribed
// or is closing.
func (h *Hub) subscribe(c *wsConn, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Closing is set before removeConn takes the lock
	if c.closing.Load() || c.topics[topic] {
		return false
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*wsConn]bool)
	}
	h.topics[topic][c] = true
	c.topics[topic] = true
	return true
}

// unsubscribe removes c from topic. It reports false if c was not subscribed.
func (h *Hub) unsubscribe(c *wsConn, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.topics[topic] {
		return false
	}
	h.drop(c, topic)
	return true
}

func (h *Hub) isSubscribed(c *wsConn, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.topics[topic]
}

// removeConn removes c from every topic.
func (h *Hub) removeConn(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic := range c.topics {
		h.drop(c, topic)
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *wsConn, topic string) {
	delete(c.topics, topic)
	if conns, ok := h.topics[topic]; ok {
		delete(conns, c)
		// Clean up empty topics
		if len(conns) == 0 {
			delete(h.topics, topic)
		}
	}
}

// publish queues payload for every subscriber of topic except skip.
// Subscribers whose send queue is full are closed.
func (h *Hub) publish(topic string, payload []byte, isBinary, compress bool, skip *wsConn) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.topics[topic] {
		if c == skip || c.closing.Load() {
			continue
		}
		if c.Send(payload, isBinary, compress) {
			sent++
			continue
		}
		h.logger.Warn("dropping slow subscriber", "topic", topic, "remote", c.remote)
		c.Close()
	}
	return sent
}

// Publish sends payload to every subscriber of topic.
func (h *Hub) Publish(topic string, payload []byte, isBinary, compress bool) int {
	return h.publish(topic, payload, isBinary, compress, nil)
}

// NumSubscribers returns the number of connections subscribed to topic.
func (h *Hub) NumSubscribers(topic string) int {
	return h.numSubscribers(topic)
}

func (h *Hub) numSubscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
