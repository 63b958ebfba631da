// Package ws serves room websockets: it streams a room's metadata and live
// fields to each connection and applies the edits and run requests it sends.
package ws

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub tracks the live connections of every room
type Hub struct {
	// Registered clients by room
	rooms map[string]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations until ctx is done, then closes every
// remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.rooms[client.roomID]; !ok {
				h.rooms[client.roomID] = make(map[*Client]bool)
			}
			h.rooms[client.roomID][client] = true
			clientCount := len(h.rooms[client.roomID])
			h.mu.Unlock()

			client.logCtx.WithField("connections", clientCount).Info("Client joined room")

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.roomID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)

					if len(clients) == 0 {
						delete(h.rooms, client.roomID)
						client.logCtx.Info("Last client left room")
					} else {
						client.logCtx.WithField("connections", len(clients)).Info("Client left room")
					}
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			closed := 0
			for _, clients := range h.rooms {
				for client := range clients {
					client.conn.Close()
					closed++
				}
			}
			h.rooms = make(map[string]map[*Client]bool)
			h.mu.Unlock()

			logrus.WithField("connections", closed).Info("Hub stopped")
			return
		}
	}
}

// Done is closed once the hub has stopped
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.rooms {
		count += len(clients)
	}
	return count
}

// GetActiveRooms returns the connection count of every room with at least
// one live connection
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := make(map[string]int, len(h.rooms))
	for roomID, clients := range h.rooms {
		active[roomID] = len(clients)
	}
	return active
}
