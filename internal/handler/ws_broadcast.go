package handler

import "github.com/freeeve/hexwar/api/internal/service"

var _ service.Notifier = (*Hub)(nil)

// NotifyParticipant implements service.Notifier by pushing to the agent's
// open connections.
func (h *Hub) NotifyParticipant(participantID, eventType string, data any) {
	h.BroadcastToAgent(participantID, WSEvent{
		Type:    eventType,
		MatchID: matchIDOf(data),
		Data:    data,
	})
}

// BroadcastMatchEvent implements service.Notifier for match observers.
func (h *Hub) BroadcastMatchEvent(matchID, eventType string, data any) {
	h.BroadcastToMatch(matchID, WSEvent{
		Type:    eventType,
		MatchID: matchID,
		Data:    data,
	})
}

func matchIDOf(data any) string {
	switch d := data.(type) {
	case *service.TurnNotice:
		return d.MatchID
	case service.MoveNotice:
		return d.MatchID
	case map[string]any:
		id, _ := d["match_id"].(string)
		return id
	}
	return ""
}
