package handler

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSEvent is the envelope for all WebSocket messages.
type WSEvent struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id,omitempty"`
	Data    any    `json:"data"`
}

// ClientMessage is the envelope for messages sent from the client.
type ClientMessage struct {
	Action  string `json:"action"` // "subscribe" or "unsubscribe"
	MatchID string `json:"match_id"`
}

// WSConn wraps a WebSocket connection with its agent and subscriptions.
type WSConn struct {
	conn    *websocket.Conn
	agentID string
	send    chan []byte
}

// Hub manages WebSocket connections and match-channel subscriptions.
type Hub struct {
	mu          sync.RWMutex
	connections map[*WSConn]bool
	agents      map[string]map[*WSConn]bool // agentID -> that agent's connections
	matches     map[string]map[*WSConn]bool // matchID -> observers
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*WSConn]bool),
		agents:      make(map[string]map[*WSConn]bool),
		matches:     make(map[string]map[*WSConn]bool),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
	if h.agents[c.agentID] == nil {
		h.agents[c.agentID] = make(map[*WSConn]bool)
	}
	h.agents[c.agentID][c] = true
}

// Unregister removes a connection from the hub and all its subscriptions.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connections[c] {
		return
	}
	delete(h.connections, c)
	if conns := h.agents[c.agentID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.agents, c.agentID)
		}
	}
	for matchID, conns := range h.matches {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.matches, matchID)
		}
	}
	close(c.send)
}

// Subscribe adds a connection to a match channel.
func (h *Hub) Subscribe(c *WSConn, matchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.matches[matchID] == nil {
		h.matches[matchID] = make(map[*WSConn]bool)
	}
	h.matches[matchID][c] = true
}

// Unsubscribe removes a connection from a match channel.
func (h *Hub) Unsubscribe(c *WSConn, matchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.matches[matchID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.matches, matchID)
		}
	}
}

// BroadcastToMatch sends an event to all connections observing a match.
func (h *Hub) BroadcastToMatch(matchID string, event WSEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.matches[matchID], event)
}

// BroadcastToAgent sends an event to every connection of one agent.
func (h *Hub) BroadcastToAgent(agentID string, event WSEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.agents[agentID], event)
}

// Send queues an event for a single connection. Events for connections
// that have already been unregistered are dropped.
func (h *Hub) Send(c *WSConn, event WSEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.connections[c] {
		h.deliver(map[*WSConn]bool{c: true}, event)
	}
}

// deliver encodes event once and queues it without blocking; a full buffer
// loses the event for that connection only. Callers hold h.mu.
func (h *Hub) deliver(conns map[*WSConn]bool, event WSEvent) {
	if len(conns) == 0 {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Str("matchId", event.MatchID).Msg("Failed to marshal WebSocket event")
		return
	}
	for c := range conns {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("agentId", c.agentID).Str("type", event.Type).Str("matchId", event.MatchID).Msg("Dropping WebSocket event, send buffer full")
		}
	}
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// MatchSubscriberCount returns the number of connections observing a match.
func (h *Hub) MatchSubscriberCount(matchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.matches[matchID])
}
