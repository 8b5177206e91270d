// Package websocket pushes occupancy and calendar events to connected
// clients. Clients may narrow the stream to a set of properties.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	sendBuffer      = 256
	broadcastBuffer = 256
)

// envelope is an outbound message tagged with the property it concerns.
// An empty propertyID reaches every client.
type envelope struct {
	propertyID string
	data       []byte
}

// Hub tracks connected clients and fans messages out to them.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex

	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
}

// NewHub creates a hub. Run must be started before clients register.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan envelope, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("clients", total).Msg("websocket client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("clients", total).Msg("websocket client disconnected")

		case env := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.Wants(env.propertyID) {
					continue
				}
				select {
				case c.send <- env.data:
				default:
					log.Warn().Msg("websocket client too slow, disconnecting")
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes c and closes its channel. Callers hold h.mu.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

// BroadcastFor queues message for clients following propertyID, or for
// every client when propertyID is empty. Messages are dropped when the
// queue is full.
func (h *Hub) BroadcastFor(propertyID string, message []byte) {
	select {
	case h.broadcast <- envelope{propertyID: propertyID, data: message}:
	default:
		log.Warn().Str("property_id", propertyID).Msg("broadcast queue full, dropping message")
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is one connection's outbound queue and property filter.
type Client struct {
	hub  *Hub
	send chan []byte

	mu         sync.RWMutex
	properties map[string]struct{}
}

// NewClient creates a client following every property.
func NewClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		send: make(chan []byte, sendBuffer),
	}
}

// Send returns the channel the hub delivers messages on. It is closed
// when the client is dropped.
func (c *Client) Send() chan []byte {
	return c.send
}

// Follow limits the client to the given properties. An empty list
// follows all of them again.
func (c *Client) Follow(propertyIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(propertyIDs) == 0 {
		c.properties = nil
		return
	}
	c.properties = make(map[string]struct{}, len(propertyIDs))
	for _, id := range propertyIDs {
		c.properties[id] = struct{}{}
	}
}

// Following returns the followed property IDs in order, nil meaning all.
func (c *Client) Following() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.properties == nil {
		return nil
	}
	out := make([]string, 0, len(c.properties))
	for id := range c.properties {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Wants reports whether a message about propertyID should reach c.
func (c *Client) Wants(propertyID string) bool {
	if propertyID == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.properties == nil {
		return true
	}
	_, ok := c.properties[propertyID]
	return ok
}
