package model

import (
	"encoding/json"
	"time"
)

// Agent is a registered competitor. Ratings and win/loss counters persist
// across matches.
type Agent struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	ProviderID    string    `json:"provider_id"`
	DisplayName   string    `json:"display_name"`
	Rating        int       `json:"rating"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	MatchesPlayed int       `json:"matches_played"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MatchRecord is the persisted summary of a match.
type MatchRecord struct {
	ID            string          `json:"id"`
	AgentA        string          `json:"agent_a"`
	AgentB        string          `json:"agent_b"`
	Status        string          `json:"status"` // active, complete
	Winner        string          `json:"winner,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	TurnNumber    int             `json:"turn_number"`
	FinalState    json.RawMessage `json:"final_state,omitempty"`
	RatingApplied bool            `json:"rating_applied"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// ActionRecord is one entry of a match's append-only action log.
type ActionRecord struct {
	ID            string          `json:"id"`
	MatchID       string          `json:"match_id"`
	Seq           int             `json:"seq"`
	Turn          int             `json:"turn"`
	ParticipantID string          `json:"participant_id"`
	Command       json.RawMessage `json:"command"`
	Result        json.RawMessage `json:"result"`
	GridAfter     json.RawMessage `json:"grid_after,omitempty"`
	Rationale     string          `json:"rationale,omitempty"`
	Forced        bool            `json:"forced"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RatingChange is the outcome of a rating update for one agent.
type RatingChange struct {
	AgentID   string `json:"agent_id"`
	OldRating int    `json:"old_rating"`
	NewRating int    `json:"new_rating"`
	Won       bool   `json:"won"`
}

// QueueEntry is an agent waiting in the matchmaking pool.
type QueueEntry struct {
	ParticipantID string    `json:"participant_id"`
	Rating        int       `json:"rating"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	SearchRange   int       `json:"search_range"`
}
