// Package watch streams thread changes to live clients.
package watch

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ashureev/proxima/internal/domain"
	"github.com/ashureev/proxima/internal/metrics"
)

// ChangeKind describes what happened to a message.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
)

// Change is one message write in a session thread.
type Change struct {
	Kind      ChangeKind      `json:"kind"`
	UserID    string          `json:"user_id"`
	SessionID string          `json:"session_id"`
	Message   *domain.Message `json:"message"`
}

// Publisher receives thread changes.
type Publisher interface {
	Publish(ctx context.Context, c Change)
}

// subscriberBuffer is the number of changes queued per subscriber before drops.
const subscriberBuffer = 64

type threadKey struct {
	userID    string
	sessionID string
}

// Hub fans changes out to the in-process subscribers of each thread.
type Hub struct {
	mu   sync.RWMutex
	subs map[threadKey]map[string]chan Change
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[threadKey]map[string]chan Change)}
}

// Subscribe registers a subscriber for one thread. The returned cancel
// function unregisters it and closes the channel.
func (h *Hub) Subscribe(userID, sessionID string) (string, <-chan Change, func()) {
	key := threadKey{userID, sessionID}
	id := uuid.NewString()
	ch := make(chan Change, subscriberBuffer)

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[string]chan Change)
	}
	h.subs[key][id] = ch
	h.mu.Unlock()
	metrics.WatchSubscribers.Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[key], id)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			h.mu.Unlock()
			close(ch)
			metrics.WatchSubscribers.Dec()
		})
	}
	return id, ch, cancel
}

// Publish delivers c to every subscriber of its thread. Slow subscribers
// lose changes instead of blocking the writer.
func (h *Hub) Publish(_ context.Context, c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[threadKey{c.UserID, c.SessionID}] {
		select {
		case ch <- c:
		default:
		}
	}
}

// Subscribers returns the number of subscribers of one thread.
func (h *Hub) Subscribers(userID, sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[threadKey{userID, sessionID}])
}
