// Package ws maintains the poll → live connections mapping and
// delivers result snapshots to every connection in a group.
package ws

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Hub groups clients by the poll they are watching. A client belongs to
// at most one poll's group at a time. Delivery is best effort,
// at-most-once per client per publish: a slow or gone client is skipped,
// the next broadcast tick corrects what it missed.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	groups map[uuid.UUID]map[*Client]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:    log,
		groups: make(map[uuid.UUID]map[*Client]struct{}),
	}
}

func (h *Hub) Join(pollID uuid.UUID, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[pollID]
	if !ok {
		group = make(map[*Client]struct{})
		h.groups[pollID] = group
	}
	group[client] = struct{}{}
}

// Leave removes the client from the poll's group and closes its send
// channel. Safe to call for a client that never joined.
func (h *Hub) Leave(pollID uuid.UUID, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[pollID]
	if !ok {
		return
	}
	if _, joined := group[client]; !joined {
		return
	}

	delete(group, client)
	if len(group) == 0 {
		delete(h.groups, pollID)
	}

	// Closing under the lock excludes a concurrent Publish from sending
	// on a closed channel.
	close(client.send)
}

// Publish enqueues the payload for every client currently joined to the
// poll and returns how many accepted it. Clients with a full send
// buffer are skipped without error propagation.
func (h *Hub) Publish(pollID uuid.UUID, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.groups[pollID] {
		if client.enqueue(payload) {
			delivered++
		}
	}
	return delivered
}

// Send enqueues a payload for a single joined client, such as the
// acknowledgment on join. A client that already left is skipped.
func (h *Hub) Send(pollID uuid.UUID, client *Client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, joined := h.groups[pollID][client]; !joined {
		return false
	}
	return client.enqueue(payload)
}

// Subscribers reports the current group size for a poll.
func (h *Hub) Subscribers(pollID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[pollID])
}
