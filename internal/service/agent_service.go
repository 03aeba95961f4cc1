package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/freeeve/hexwar/api/internal/matchmaking"
	"github.com/freeeve/hexwar/api/internal/model"
	"github.com/freeeve/hexwar/api/internal/repository"
)

const maxNameLength = 40

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrInvalidName   = errors.New("display name must be 1-40 characters")
	ErrAlreadyQueued = errors.New("already in the queue")
	ErrNotQueued     = errors.New("not in the queue")
)

// QueueStatus describes an agent's place in matchmaking.
type QueueStatus struct {
	Queued  bool              `json:"queued"`
	Entry   *model.QueueEntry `json:"entry,omitempty"`
	MatchID string            `json:"match_id,omitempty"`
}

// AgentProfile is an agent with its recent matches.
type AgentProfile struct {
	*model.Agent
	ActiveMatch   string              `json:"active_match,omitempty"`
	RecentMatches []model.MatchRecord `json:"recent_matches"`
}

// AgentService handles agent profiles and queue membership.
type AgentService struct {
	agents  repository.AgentRepository
	matches repository.MatchRepository
	mm      *matchmaking.Matchmaker
	live    *MatchService
}

// NewAgentService creates an AgentService.
func NewAgentService(agents repository.AgentRepository, matches repository.MatchRepository, mm *matchmaking.Matchmaker, live *MatchService) *AgentService {
	return &AgentService{agents: agents, matches: matches, mm: mm, live: live}
}

// Profile returns an agent with its most recent matches.
func (s *AgentService) Profile(ctx context.Context, id string) (*AgentProfile, error) {
	agent, err := s.agents.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrAgentNotFound
	}
	p := &AgentProfile{Agent: agent, RecentMatches: []model.MatchRecord{}}
	if matchID, ok := s.live.ActiveMatchFor(id); ok {
		p.ActiveMatch = matchID
	}
	if s.matches != nil {
		recent, err := s.matches.ListByAgent(ctx, id, 20)
		if err != nil {
			return nil, err
		}
		if recent != nil {
			p.RecentMatches = recent
		}
	}
	return p, nil
}

// Rename updates an agent's display name.
func (s *AgentService) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return ErrInvalidName
	}
	return s.agents.UpdateDisplayName(ctx, id, name)
}

// Leaderboard returns the top agents by rating.
func (s *AgentService) Leaderboard(ctx context.Context, limit int) ([]model.Agent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.agents.Leaderboard(ctx, limit)
}

// Enqueue puts the agent into matchmaking at its current rating.
func (s *AgentService) Enqueue(ctx context.Context, id string) (*QueueStatus, error) {
	agent, err := s.agents.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrAgentNotFound
	}
	e, err := s.mm.Enqueue(ctx, id, agent.Rating)
	switch {
	case errors.Is(err, matchmaking.ErrAlreadyQueued):
		return nil, ErrAlreadyQueued
	case errors.Is(err, matchmaking.ErrInMatch):
		return nil, ErrAlreadyInMatch
	case err != nil:
		return nil, err
	}
	return &QueueStatus{Queued: true, Entry: &e}, nil
}

// Cancel removes the agent from matchmaking.
func (s *AgentService) Cancel(ctx context.Context, id string) error {
	if err := s.mm.Cancel(ctx, id); err != nil {
		if errors.Is(err, matchmaking.ErrNotQueued) {
			return ErrNotQueued
		}
		return err
	}
	return nil
}

// QueueStatus reports whether the agent is queued or already matched.
func (s *AgentService) QueueStatus(_ context.Context, id string) *QueueStatus {
	if e, ok := s.mm.Status(id); ok {
		return &QueueStatus{Queued: true, Entry: &e}
	}
	st := &QueueStatus{}
	if matchID, ok := s.live.ActiveMatchFor(id); ok {
		st.MatchID = matchID
	}
	return st
}
