package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/freeeve/hexwar/api/internal/model"
	"github.com/freeeve/hexwar/api/internal/repository"
	"github.com/freeeve/hexwar/api/pkg/arena"
	"github.com/freeeve/hexwar/api/pkg/pow"
)

type mockAgentRepo struct {
	mu     sync.Mutex
	agents map[string]*model.Agent
}

func newMockAgentRepo(ids ...string) *mockAgentRepo {
	r := &mockAgentRepo{agents: make(map[string]*model.Agent)}
	for _, id := range ids {
		r.agents[id] = &model.Agent{ID: id, DisplayName: "Agent " + id, Rating: 1200}
	}
	return r
}

func (m *mockAgentRepo) FindByID(_ context.Context, id string) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *mockAgentRepo) FindByProviderID(_ context.Context, provider, providerID string) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.Provider == provider && a.ProviderID == providerID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockAgentRepo) Upsert(_ context.Context, provider, providerID, displayName string) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.Provider == provider && a.ProviderID == providerID {
			a.DisplayName = displayName
			cp := *a
			return &cp, nil
		}
	}
	a := &model.Agent{
		ID:          fmt.Sprintf("agent-%d", len(m.agents)+1),
		Provider:    provider,
		ProviderID:  providerID,
		DisplayName: displayName,
		Rating:      1200,
	}
	m.agents[a.ID] = a
	cp := *a
	return &cp, nil
}

func (m *mockAgentRepo) UpdateDisplayName(_ context.Context, id, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.agents[id]; ok {
		a.DisplayName = displayName
	}
	return nil
}

func (m *mockAgentRepo) Leaderboard(_ context.Context, limit int) ([]model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Agent
	for _, a := range m.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rating > out[j].Rating })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockMatchRepo struct {
	mu           sync.Mutex
	matches      map[string]*model.MatchRecord
	actions      map[string][]model.ActionRecord
	agents       *mockAgentRepo
	ratingCalls  int
	ratingWrites int
}

func newMockMatchRepo(agents *mockAgentRepo) *mockMatchRepo {
	return &mockMatchRepo{
		matches: make(map[string]*model.MatchRecord),
		actions: make(map[string][]model.ActionRecord),
		agents:  agents,
	}
}

func (m *mockMatchRepo) Create(_ context.Context, rec *model.MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.matches[rec.ID]; ok {
		return nil
	}
	cp := *rec
	m.matches[rec.ID] = &cp
	return nil
}

func (m *mockMatchRepo) FindByID(_ context.Context, id string) (*model.MatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.matches[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *mockMatchRepo) ListActive(_ context.Context) ([]model.MatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.MatchRecord
	for _, rec := range m.matches {
		if rec.Status == "active" {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *mockMatchRepo) ListByAgent(_ context.Context, agentID string, limit int) ([]model.MatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.MatchRecord
	for _, rec := range m.matches {
		if rec.AgentA == agentID || rec.AgentB == agentID {
			out = append(out, *rec)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockMatchRepo) Finish(_ context.Context, id, winner, reason string, turn int, finalState json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.matches[id]
	if !ok {
		return fmt.Errorf("finish match %s: %w", id, repository.ErrMatchNotRecorded)
	}
	now := time.Now()
	rec.Status = "complete"
	rec.Winner = winner
	rec.Reason = reason
	rec.TurnNumber = turn
	rec.FinalState = finalState
	rec.FinishedAt = &now
	return nil
}

func (m *mockMatchRepo) AppendAction(_ context.Context, a *model.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[a.MatchID] = append(m.actions[a.MatchID], *a)
	return nil
}

func (m *mockMatchRepo) ListActions(_ context.Context, matchID string) ([]model.ActionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ActionRecord(nil), m.actions[matchID]...), nil
}

func (m *mockMatchRepo) ApplyRatings(_ context.Context, matchID string, changes []model.RatingChange) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratingCalls++
	if len(changes) != 2 {
		return false, fmt.Errorf("rating update needs 2 changes, got %d", len(changes))
	}
	rec, ok := m.matches[matchID]
	if !ok {
		now := time.Now()
		rec = &model.MatchRecord{
			ID:         matchID,
			AgentA:     changes[0].AgentID,
			AgentB:     changes[1].AgentID,
			Status:     "complete",
			FinishedAt: &now,
		}
		for _, c := range changes {
			if c.Won {
				rec.Winner = c.AgentID
			}
		}
		m.matches[matchID] = rec
	}
	if rec.RatingApplied {
		return false, nil
	}
	rec.RatingApplied = true
	m.ratingWrites++
	m.agents.mu.Lock()
	defer m.agents.mu.Unlock()
	for _, c := range changes {
		a := m.agents.agents[c.AgentID]
		a.Rating = c.NewRating
		a.MatchesPlayed++
		if c.Won {
			a.Wins++
		} else {
			a.Losses++
		}
	}
	return true, nil
}

type mockCache struct {
	mu        sync.Mutex
	snapshots map[string]json.RawMessage
	timers    map[string]time.Time
	queue     map[string]model.QueueEntry
}

func newMockCache() *mockCache {
	return &mockCache{
		snapshots: make(map[string]json.RawMessage),
		timers:    make(map[string]time.Time),
		queue:     make(map[string]model.QueueEntry),
	}
}

func (m *mockCache) SaveSnapshot(_ context.Context, matchID string, snap json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[matchID] = snap
	return nil
}

func (m *mockCache) ListSnapshots(_ context.Context) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []json.RawMessage
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	return out, nil
}

func (m *mockCache) DeleteSnapshot(_ context.Context, matchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, matchID)
	return nil
}

func (m *mockCache) SetTimer(_ context.Context, matchID string, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[matchID] = deadline
	return nil
}

func (m *mockCache) ClearTimer(_ context.Context, matchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, matchID)
	return nil
}

func (m *mockCache) SaveQueueEntry(_ context.Context, e model.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue[e.ParticipantID] = e
	return nil
}

func (m *mockCache) DeleteQueueEntry(_ context.Context, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queue, participantID)
	return nil
}

func (m *mockCache) LoadQueue(_ context.Context) ([]model.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.QueueEntry
	for _, e := range m.queue {
		out = append(out, e)
	}
	return out, nil
}

type notification struct {
	to        string // participant id, or "" for a match broadcast
	matchID   string
	eventType string
	data      any
}

type recordingNotifier struct {
	mu      sync.Mutex
	events  []notification
	panicOn string
}

func (n *recordingNotifier) NotifyParticipant(participantID, eventType string, data any) {
	if n.panicOn != "" && eventType == n.panicOn {
		panic("notifier exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{to: participantID, eventType: eventType, data: data})
}

func (n *recordingNotifier) BroadcastMatchEvent(matchID, eventType string, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{matchID: matchID, eventType: eventType, data: data})
}

func (n *recordingNotifier) find(to, eventType string) []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification
	for _, e := range n.events {
		if e.to == to && e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// waitFor blocks until cond holds or fails the test after two seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// lastTurnStart returns the most recent turn_start notice sent to pid.
func (n *recordingNotifier) lastTurnStart(t *testing.T, pid string) *TurnNotice {
	t.Helper()
	var notice *TurnNotice
	waitFor(t, "turn_start for "+pid, func() bool {
		events := n.find(pid, EventTurnStart)
		if len(events) == 0 {
			return false
		}
		notice = events[len(events)-1].data.(*TurnNotice)
		return true
	})
	return notice
}

func solve(t *testing.T, c *pow.Challenge) string {
	t.Helper()
	if c == nil {
		t.Fatal("no challenge issued")
	}
	nonce, err := pow.Solve(context.Background(), c.Prefix, c.Difficulty)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	return nonce
}

func passSub(nonce string) Submission {
	return Submission{
		Command:   arena.Pass{}.Envelope(),
		Rationale: "holding position this turn",
		Nonce:     nonce,
	}
}
