package service

// Event types delivered through the Notifier.
const (
	EventMatchStarted  = "match_started"
	EventTurnStart     = "turn_start"
	EventMoveResult    = "move_result"
	EventOpponentMoved = "opponent_moved"
	EventMatchUpdate   = "match_update"
	EventMatchComplete = "match_complete"
)

// Notifier sends real-time events to connected clients.
// Implemented by the WebSocket hub.
type Notifier interface {
	// NotifyParticipant delivers to one agent wherever it is connected.
	NotifyParticipant(participantID string, eventType string, data any)
	// BroadcastMatchEvent delivers to everyone observing the match.
	BroadcastMatchEvent(matchID string, eventType string, data any)
}

// NoopNotifier is a no-op implementation for testing or when WS is disabled.
type NoopNotifier struct{}

func (NoopNotifier) NotifyParticipant(string, string, any)   {}
func (NoopNotifier) BroadcastMatchEvent(string, string, any) {}

// MultiNotifier fans events out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyParticipant(participantID, eventType string, data any) {
	for _, n := range m {
		n.NotifyParticipant(participantID, eventType, data)
	}
}

func (m MultiNotifier) BroadcastMatchEvent(matchID, eventType string, data any) {
	for _, n := range m {
		n.BroadcastMatchEvent(matchID, eventType, data)
	}
}
