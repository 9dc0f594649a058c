package relay

import (
	"sync"

	"github.com/cwrk-planet/admin-chat/internal/transport/wsbroker"
)

// Subscriber is one connected socket.
type Subscriber interface {
	Send(f wsbroker.Frame) error
}

type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[Subscriber]struct{} // topic -> set of subscribers
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[Subscriber]struct{})}
}

func (h *Hub) Subscribe(topic string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ss, ok := h.topics[topic]
	if !ok {
		ss = make(map[Subscriber]struct{})
		h.topics[topic] = ss
	}
	ss[s] = struct{}{}
}

// Remove drops s from every topic.
func (h *Hub) Remove(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic, ss := range h.topics {
		delete(ss, s)
		if len(ss) == 0 {
			delete(h.topics, topic)
		}
	}
}

func (h *Hub) Broadcast(topic string, payload []byte) {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.topics[topic]))
	for s := range h.topics[topic] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	f := wsbroker.Frame{Type: wsbroker.FrameMessage, Topic: topic, Payload: payload}
	for _, s := range subs {
		_ = s.Send(f) // best-effort
	}
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
