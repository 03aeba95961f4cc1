package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/freeeve/hexwar/api/internal/model"
)

// ErrMatchNotRecorded is returned when a write targets a match row that was
// never created.
var ErrMatchNotRecorded = errors.New("match not recorded")

// AgentRepository defines agent data operations.
type AgentRepository interface {
	FindByID(ctx context.Context, id string) (*model.Agent, error)
	FindByProviderID(ctx context.Context, provider, providerID string) (*model.Agent, error)
	Upsert(ctx context.Context, provider, providerID, displayName string) (*model.Agent, error)
	UpdateDisplayName(ctx context.Context, id, displayName string) error
	Leaderboard(ctx context.Context, limit int) ([]model.Agent, error)
}

// MatchRepository defines match and action log operations.
type MatchRepository interface {
	// Create inserts the match row. Creating an existing match is a no-op.
	Create(ctx context.Context, m *model.MatchRecord) error
	FindByID(ctx context.Context, id string) (*model.MatchRecord, error)
	ListActive(ctx context.Context) ([]model.MatchRecord, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]model.MatchRecord, error)
	// Finish returns ErrMatchNotRecorded if the match row is missing.
	Finish(ctx context.Context, id, winner, reason string, turn int, finalState json.RawMessage) error
	AppendAction(ctx context.Context, a *model.ActionRecord) error
	ListActions(ctx context.Context, matchID string) ([]model.ActionRecord, error)
	// ApplyRatings stores the new ratings and win/loss counters unless the
	// match already had its ratings applied. It reports whether it applied them.
	// changes are in seat order; a missing match row is created from them.
	ApplyRatings(ctx context.Context, matchID string, changes []model.RatingChange) (bool, error)
}

// MatchCache defines live match state operations (Redis).
type MatchCache interface {
	SaveSnapshot(ctx context.Context, matchID string, snapshot json.RawMessage) error
	ListSnapshots(ctx context.Context) ([]json.RawMessage, error)
	DeleteSnapshot(ctx context.Context, matchID string) error
	SetTimer(ctx context.Context, matchID string, deadline time.Time) error
	ClearTimer(ctx context.Context, matchID string) error
	SaveQueueEntry(ctx context.Context, e model.QueueEntry) error
	DeleteQueueEntry(ctx context.Context, participantID string) error
	LoadQueue(ctx context.Context) ([]model.QueueEntry, error)
}
