package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/freeeve/hexwar/api/internal/auth"
	"github.com/freeeve/hexwar/api/internal/service"
	"github.com/freeeve/hexwar/api/pkg/arena"
)

func TestHubSendSkipsUnregistered(t *testing.T) {
	hub := NewHub()
	c := newTestConn("agent-1")
	hub.Register(c)

	hub.Send(c, WSEvent{Type: eventSubscribed, MatchID: "m1"})
	if ev := receive(t, c); ev.Type != eventSubscribed || ev.MatchID != "m1" {
		t.Errorf("unexpected event %+v", ev)
	}

	hub.Unregister(c)
	// must not panic on the closed channel
	hub.Send(c, WSEvent{Type: eventSubscribed})
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) WSEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev WSEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestServeWSRejectsMissingToken(t *testing.T) {
	h := NewWSHandler(NewHub(), auth.NewJWTManager("ws-secret"), nil)
	rec := httptest.NewRecorder()
	h.ServeWS(rec, httptest.NewRequest("GET", "/ws", nil))
	if rec.Code != 401 {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestServeWSSubscribeSendsSnapshot(t *testing.T) {
	e := newEnv(t)
	matchID, err := e.matches.StartMatch(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("start match: %v", err)
	}

	jwtMgr := auth.NewJWTManager("ws-secret")
	h := NewWSHandler(NewHub(), jwtMgr, e.matches)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	token, err := jwtMgr.GenerateAccessToken("carol")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	conn := dialWS(t, srv, token)
	if ev := readEvent(t, conn); ev.Type != eventConnected {
		t.Fatalf("expected connected, got %+v", ev)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", MatchID: "missing"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != eventError || ev.MatchID != "missing" {
		t.Fatalf("expected error for unknown match, got %+v", ev)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", MatchID: matchID}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != eventSubscribed {
		t.Fatalf("expected subscribed, got %+v", ev)
	}
	ev := readEvent(t, conn)
	if ev.Type != service.EventMatchUpdate || ev.MatchID != matchID {
		t.Fatalf("expected match snapshot, got %+v", ev)
	}
	state, _ := ev.Data.(map[string]any)
	if state["status"] != string(arena.StatusActive) || state["active_participant"] != "alice" {
		t.Errorf("unexpected snapshot %v", state)
	}
}
