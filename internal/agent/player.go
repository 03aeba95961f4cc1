package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexwar/api/internal/service"
	"github.com/freeeve/hexwar/api/pkg/arena"
	"github.com/freeeve/hexwar/api/pkg/pow"
)

const pollInterval = 50 * time.Millisecond

// TurnService is the part of the match service a player drives.
type TurnService interface {
	CurrentTurn(ctx context.Context, matchID, participantID string) (*service.TurnNotice, error)
	Submit(ctx context.Context, matchID, participantID string, sub service.Submission) (*service.SubmitResult, error)
	Ack(ctx context.Context, matchID, participantID string) error
}

// Player is one scripted participant.
type Player struct {
	ID       string
	Strategy Strategy

	turns TurnService
	wake  chan struct{}

	mu        sync.Mutex
	submitted int
	rejected  int
}

// NewPlayer creates a Player.
func NewPlayer(id string, s Strategy, turns TurnService) *Player {
	return &Player{ID: id, Strategy: s, turns: turns, wake: make(chan struct{}, 1)}
}

// Wake nudges a waiting player to poll immediately.
func (p *Player) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stats returns how many submissions were accepted and rejected.
func (p *Player) Stats() (submitted, rejected int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitted, p.rejected
}

// Play takes turns until the match completes, acknowledges it and returns
// the final notice.
func (p *Player) Play(ctx context.Context, matchID string) (*service.TurnNotice, error) {
	for {
		n, err := p.turns.CurrentTurn(ctx, matchID, p.ID)
		if err != nil {
			return nil, err
		}
		if n.Status != arena.StatusActive {
			if err := p.turns.Ack(ctx, matchID, p.ID); err != nil && !errors.Is(err, service.ErrMatchNotFound) {
				return n, err
			}
			return n, nil
		}
		if n.YourTurn && n.Challenge != nil {
			if err := p.move(ctx, n); err != nil {
				return nil, err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.wake:
		case <-time.After(pollInterval):
		}
	}
}

func (p *Player) move(ctx context.Context, n *service.TurnNotice) error {
	cmd, rationale := p.Strategy.Choose(n.State, p.ID)
	nonce, err := pow.Solve(ctx, n.Challenge.Prefix, n.Challenge.Difficulty)
	if err != nil {
		return err
	}
	_, err = p.turns.Submit(ctx, n.MatchID, p.ID, service.Submission{
		Command:   cmd.Envelope(),
		Rationale: rationale,
		Nonce:     nonce,
	})
	if rej, ok := service.IsRejection(err); ok {
		p.mu.Lock()
		p.rejected++
		p.mu.Unlock()
		log.Debug().Str("participantId", p.ID).Str("matchId", n.MatchID).Str("reason", rej.Reason()).Msg("Scripted move rejected")
		return nil
	}
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.submitted++
	p.mu.Unlock()
	return nil
}

// Roster routes service notifications to in-process players.
type Roster struct {
	mu      sync.RWMutex
	players map[string]*Player
}

var _ service.Notifier = (*Roster)(nil)

// NewRoster creates an empty Roster.
func NewRoster() *Roster {
	return &Roster{players: make(map[string]*Player)}
}

// Add registers p for notifications.
func (r *Roster) Add(p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[p.ID] = p
}

// Remove drops a player.
func (r *Roster) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, id)
}

func (r *Roster) NotifyParticipant(participantID, _ string, _ any) {
	r.mu.RLock()
	p := r.players[participantID]
	r.mu.RUnlock()
	if p != nil {
		p.Wake()
	}
}

func (r *Roster) BroadcastMatchEvent(string, string, any) {}
