package handler

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/freeeve/hexwar/api/internal/service"
)

func newTestConn(agentID string) *WSConn {
	return &WSConn{
		conn:    nil, // no real connection for hub tests
		agentID: agentID,
		send:    make(chan []byte, 256),
	}
}

func receive(t *testing.T, c *WSConn) WSEvent {
	t.Helper()
	select {
	case msg := <-c.send:
		var event WSEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return event
	case <-time.After(time.Second):
		t.Fatalf("%s did not receive an event", c.agentID)
	}
	return WSEvent{}
}

func expectSilence(t *testing.T, c *WSConn) {
	t.Helper()
	select {
	case <-c.send:
		t.Errorf("%s should not have received an event", c.agentID)
	default:
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub()
	c := newTestConn("agent-1")

	hub.Register(c)
	if hub.ConnectionCount() != 1 {
		t.Errorf("expected 1 connection, got %d", hub.ConnectionCount())
	}

	hub.Unregister(c)
	if hub.ConnectionCount() != 0 {
		t.Errorf("expected 0 connections, got %d", hub.ConnectionCount())
	}

	// second unregister must not close the channel twice
	hub.Unregister(c)
}

func TestHubSubscribeUnsubscribe(t *testing.T) {
	hub := NewHub()
	c := newTestConn("agent-1")
	hub.Register(c)
	defer hub.Unregister(c)

	hub.Subscribe(c, "match-1")
	if hub.MatchSubscriberCount("match-1") != 1 {
		t.Errorf("expected 1 subscriber, got %d", hub.MatchSubscriberCount("match-1"))
	}

	hub.Unsubscribe(c, "match-1")
	if hub.MatchSubscriberCount("match-1") != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.MatchSubscriberCount("match-1"))
	}
}

func TestHubBroadcastMatchEvent(t *testing.T) {
	hub := NewHub()
	c1 := newTestConn("spectator-1")
	c2 := newTestConn("spectator-2")
	c3 := newTestConn("agent-3") // not subscribed

	for _, c := range []*WSConn{c1, c2, c3} {
		hub.Register(c)
		defer hub.Unregister(c)
	}
	hub.Subscribe(c1, "match-1")
	hub.Subscribe(c2, "match-1")

	hub.BroadcastMatchEvent("match-1", service.EventMatchUpdate, map[string]any{"turn": 3})

	for _, c := range []*WSConn{c1, c2} {
		event := receive(t, c)
		if event.Type != service.EventMatchUpdate || event.MatchID != "match-1" {
			t.Errorf("unexpected event %+v", event)
		}
	}
	expectSilence(t, c3)
}

func TestHubNotifyParticipant(t *testing.T) {
	hub := NewHub()
	c1 := newTestConn("agent-1")
	c2 := newTestConn("agent-1") // same agent, two connections
	c3 := newTestConn("agent-2")

	for _, c := range []*WSConn{c1, c2, c3} {
		hub.Register(c)
		defer hub.Unregister(c)
	}

	hub.NotifyParticipant("agent-1", service.EventTurnStart, &service.TurnNotice{
		MatchID:       "match-9",
		ParticipantID: "agent-1",
		YourTurn:      true,
	})

	for _, c := range []*WSConn{c1, c2} {
		event := receive(t, c)
		if event.Type != service.EventTurnStart {
			t.Errorf("expected %s, got %s", service.EventTurnStart, event.Type)
		}
		if event.MatchID != "match-9" {
			t.Errorf("expected match id taken from the notice, got %q", event.MatchID)
		}
	}
	expectSilence(t, c3)
}

func TestHubUnregisterCleansUpSubscriptions(t *testing.T) {
	hub := NewHub()
	c := newTestConn("agent-1")
	hub.Register(c)
	hub.Subscribe(c, "match-1")
	hub.Subscribe(c, "match-2")

	hub.Unregister(c)

	if hub.MatchSubscriberCount("match-1") != 0 || hub.MatchSubscriberCount("match-2") != 0 {
		t.Error("expected no subscribers after unregister")
	}
	hub.NotifyParticipant("agent-1", service.EventTurnStart, nil)
}

func TestHubConcurrentAccess(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestConn("agent")
			hub.Register(c)
			hub.Subscribe(c, "match-1")
			hub.BroadcastMatchEvent("match-1", "test", nil)
			hub.NotifyParticipant("agent", "test", nil)
			hub.Unsubscribe(c, "match-1")
			hub.Unregister(c)
		}()
	}

	wg.Wait()
	if hub.ConnectionCount() != 0 {
		t.Errorf("expected 0 connections after concurrent test, got %d", hub.ConnectionCount())
	}
}

func TestMatchIDOf(t *testing.T) {
	tests := []struct {
		name string
		data any
		want string
	}{
		{"turn notice", &service.TurnNotice{MatchID: "m1"}, "m1"},
		{"move notice", service.MoveNotice{MatchID: "m2"}, "m2"},
		{"map", map[string]any{"match_id": "m3"}, "m3"},
		{"other", 42, ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchIDOf(tt.data); got != tt.want {
				t.Errorf("matchIDOf = %q, want %q", got, tt.want)
			}
		})
	}
}
