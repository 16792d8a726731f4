package livereload

import (
	"log/slog"
	"sync"
)

const (
	defaultSubscriberCapacity = 16
	defaultDedupeWindow       = 256
)

// HubOption customizes Hub construction.
type HubOption func(*Hub)

// Hub fans reload messages out to every connected browser with bounded
// buffering and deduplication.
type Hub struct {
	mu           sync.RWMutex
	subscribers  map[*subscriber]struct{}
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	dedupeWindow int
	logger       *slog.Logger
}

// Subscription represents one connected client.
type Subscription struct {
	Messages <-chan Message
	cancel   func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewHub constructs a hub with sane defaults.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subscribers:  map[*subscriber]struct{}{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// HubWithLogger injects a logger for drop diagnostics.
func HubWithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// HubWithSubscriberCapacity overrides the buffered channel size per client.
func HubWithSubscriberCapacity(capacity int) HubOption {
	return func(h *Hub) {
		if capacity > 0 {
			h.channelSize = capacity
		}
	}
}

// HubWithDedupeWindow controls how many recent message IDs are retained.
func HubWithDedupeWindow(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.dedupeWindow = size
		}
	}
}

// Subscribe registers a new client.
func (h *Hub) Subscribe() Subscription {
	sub := newSubscriber(h.channelSize, h.logger)
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	return Subscription{
		Messages: sub.channel(),
		cancel:   func() { h.remove(sub) },
	}
}

// Clients reports how many clients are connected.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast delivers msg to every client. Messages repeating a recent ID are
// dropped.
func (h *Hub) Broadcast(msg Message) {
	if msg.ID != "" && h.isDuplicate(msg.ID) {
		return
	}
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.deliver(msg)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = map[*subscriber]struct{}{}
	h.mu.Unlock()
	for sub := range subs {
		sub.close()
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	h.mu.Unlock()
	sub.close()
}

func (h *Hub) isDuplicate(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.recentIDs[id]; ok {
		return true
	}
	h.recentIDs[id] = struct{}{}
	h.recentOrder = append(h.recentOrder, id)
	if len(h.recentOrder) > h.dedupeWindow {
		oldest := h.recentOrder[0]
		h.recentOrder = h.recentOrder[1:]
		delete(h.recentIDs, oldest)
	}
	return false
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Message
	logger *slog.Logger
	closed bool
}

func newSubscriber(capacity int, logger *slog.Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{ch: make(chan Message, capacity), logger: logger}
}

func (s *subscriber) channel() <-chan Message {
	return s.ch
}

// deliver never blocks. On overflow the oldest queued injection makes room;
// reloads and errors are only displaced by other reloads or errors.
func (s *subscriber) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
		return
	default:
	}
	queued := s.drain()
	if len(queued) < cap(s.ch) {
		// The reader caught up in the meantime.
		s.refill(append(queued, msg))
		return
	}
	victim := -1
	for i, m := range queued {
		if !isCritical(m.Type) {
			victim = i
			break
		}
	}
	switch {
	case victim >= 0:
		s.logDrop(queued[victim], "queue overflow")
		queued = append(queued[:victim], queued[victim+1:]...)
		queued = append(queued, msg)
	case isCritical(msg.Type):
		s.logDrop(queued[0], "queue overflow")
		queued = append(queued[1:], msg)
	default:
		s.logDrop(msg, "queue overflow:incoming")
	}
	s.refill(queued)
}

func (s *subscriber) drain() []Message {
	out := make([]Message, 0, cap(s.ch))
	for {
		select {
		case m := <-s.ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

func (s *subscriber) refill(msgs []Message) {
	for _, m := range msgs {
		s.ch <- m
	}
}

func (s *subscriber) logDrop(msg Message, reason string) {
	if s.logger == nil {
		return
	}
	s.logger.Warn("Reload message dropped.", "type", msg.Type, "reason", reason)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
