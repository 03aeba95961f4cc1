package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexwar/api/internal/auth"
	"github.com/freeeve/hexwar/api/internal/service"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 54 * time.Second // must be less than pongWait
	maxMsgSize    = 4096
	sendBufSize   = 256
	lookupTimeout = 5 * time.Second
)

// Control events sent by the socket itself rather than the match service.
const (
	eventConnected  = "connected"
	eventSubscribed = "subscribed"
	eventError      = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS middleware and the token check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MatchViewer resolves the public view of a match for new observers.
type MatchViewer interface {
	View(ctx context.Context, matchID string) (*service.MatchView, error)
}

// WSHandler upgrades agent and observer connections.
type WSHandler struct {
	hub     *Hub
	jwtMgr  *auth.JWTManager
	matches MatchViewer
}

// NewWSHandler creates a WSHandler. matches may be nil, in which case
// subscriptions are accepted without a state snapshot.
func NewWSHandler(hub *Hub, jwtMgr *auth.JWTManager, matches MatchViewer) *WSHandler {
	return &WSHandler{hub: hub, jwtMgr: jwtMgr, matches: matches}
}

// ServeWS handles GET /api/v1/ws. The access token travels in ?token=
// because the upgrade request cannot carry an Authorization header from a
// browser. An agent's own turn notices arrive without subscribing.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		writeError(w, http.StatusUnauthorized, "missing token parameter")
		return
	}
	claims, err := h.jwtMgr.ValidateAccessToken(tokenStr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &WSConn{
		conn:    conn,
		agentID: claims.AgentID,
		send:    make(chan []byte, sendBufSize),
	}
	h.hub.Register(c)
	h.hub.Send(c, WSEvent{Type: eventConnected, Data: map[string]any{"agent_id": claims.AgentID}})

	go h.writePump(c)
	go h.readPump(c)

	log.Info().Str("agentId", claims.AgentID).Int("total", h.hub.ConnectionCount()).Msg("WebSocket client connected")
}

func (h *WSHandler) readPump(c *WSConn) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
		log.Info().Str("agentId", c.agentID).Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("agentId", c.agentID).Msg("WebSocket unexpected close")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.MatchID == "" {
			continue
		}
		switch msg.Action {
		case "subscribe":
			h.subscribe(c, msg.MatchID)
		case "unsubscribe":
			h.hub.Unsubscribe(c, msg.MatchID)
		}
	}
}

// subscribe adds c as an observer and sends it the current match state so it
// does not have to wait for the next move.
func (h *WSHandler) subscribe(c *WSConn, matchID string) {
	if h.matches == nil {
		h.hub.Subscribe(c, matchID)
		h.hub.Send(c, WSEvent{Type: eventSubscribed, MatchID: matchID})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	view, err := h.matches.View(ctx, matchID)
	if err != nil {
		h.hub.Send(c, WSEvent{Type: eventError, MatchID: matchID, Data: map[string]string{"error": err.Error()}})
		return
	}
	h.hub.Subscribe(c, matchID)
	h.hub.Send(c, WSEvent{Type: eventSubscribed, MatchID: matchID})
	h.hub.Send(c, WSEvent{Type: service.EventMatchUpdate, MatchID: matchID, Data: view})
}

// writePump writes one event per frame so clients can decode frames
// independently, and keeps the connection alive with pings.
func (h *WSHandler) writePump(c *WSConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
