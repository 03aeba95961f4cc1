//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/freeeve/hexwar/api/internal/model"
	"github.com/freeeve/hexwar/api/internal/repository"
	"github.com/freeeve/hexwar/api/internal/testutil"
)

var testDB *sql.DB

func setup(t *testing.T) {
	t.Helper()
	if testDB == nil {
		testDB = testutil.SetupDB(t)
	}
	testutil.CleanupDB(t, testDB)
}

func createTestAgent(t *testing.T, repo *AgentRepo, suffix string) *model.Agent {
	t.Helper()
	a, err := repo.Upsert(context.Background(), "google", "provider-"+suffix, "Agent "+suffix)
	if err != nil {
		t.Fatalf("create test agent: %v", err)
	}
	return a
}

func createTestMatch(t *testing.T, repo *MatchRepo, a, b *model.Agent) *model.MatchRecord {
	t.Helper()
	m := &model.MatchRecord{
		ID:         uuid.NewString(),
		AgentA:     a.ID,
		AgentB:     b.ID,
		Status:     "active",
		TurnNumber: 1,
		StartedAt:  time.Now(),
	}
	if err := repo.Create(context.Background(), m); err != nil {
		t.Fatalf("create test match: %v", err)
	}
	return m
}

func TestAgentUpsertCreatesWithDefaultRating(t *testing.T) {
	setup(t)
	repo := NewAgentRepo(testDB)

	a, err := repo.Upsert(context.Background(), "google", "goog-123", "Alice")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if a.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	if a.Rating != 1200 || a.MatchesPlayed != 0 {
		t.Fatalf("unexpected new agent: %+v", a)
	}
}

func TestAgentUpsertUpdatesName(t *testing.T) {
	setup(t)
	repo := NewAgentRepo(testDB)
	ctx := context.Background()

	first := createTestAgent(t, repo, "x")
	second, err := repo.Upsert(ctx, "google", "provider-x", "Renamed")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same ID, got %s and %s", first.ID, second.ID)
	}
	if second.DisplayName != "Renamed" {
		t.Fatalf("expected Renamed, got %s", second.DisplayName)
	}
}

func TestAgentFindMissing(t *testing.T) {
	setup(t)
	repo := NewAgentRepo(testDB)

	a, err := repo.FindByID(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if a != nil {
		t.Fatalf("expected nil, got %+v", a)
	}
}

func TestMatchFinishAndActions(t *testing.T) {
	setup(t)
	agents := NewAgentRepo(testDB)
	repo := NewMatchRepo(testDB)
	ctx := context.Background()
	a := createTestAgent(t, agents, "a")
	b := createTestAgent(t, agents, "b")
	m := createTestMatch(t, repo, a, b)

	for i := 0; i < 2; i++ {
		err := repo.AppendAction(ctx, &model.ActionRecord{
			ID:            uuid.NewString(),
			MatchID:       m.ID,
			Seq:           i,
			Turn:          1,
			ParticipantID: a.ID,
			Command:       json.RawMessage(`{"action":"pass"}`),
			Result:        json.RawMessage(`{"action":"pass"}`),
			Rationale:     "holding position",
			CreatedAt:     time.Now(),
		})
		if err != nil {
			t.Fatalf("append action %d: %v", i, err)
		}
	}
	actions, err := repo.ListActions(ctx, m.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 2 || actions[1].Seq != 1 || actions[0].Rationale != "holding position" {
		t.Fatalf("unexpected actions: %+v", actions)
	}

	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active match, got %d", len(active))
	}

	if err := repo.Finish(ctx, m.ID, a.ID, "points", 12, json.RawMessage(`{"id":"x"}`)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, err := repo.FindByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != "complete" || got.Winner != a.ID || got.Reason != "points" || got.FinishedAt == nil {
		t.Fatalf("unexpected finished match: %+v", got)
	}

	byAgent, err := repo.ListByAgent(ctx, b.ID, 10)
	if err != nil {
		t.Fatalf("list by agent: %v", err)
	}
	if len(byAgent) != 1 {
		t.Fatalf("expected 1 match for b, got %d", len(byAgent))
	}
}

func TestApplyRatingsOnce(t *testing.T) {
	setup(t)
	agents := NewAgentRepo(testDB)
	repo := NewMatchRepo(testDB)
	ctx := context.Background()
	a := createTestAgent(t, agents, "a")
	b := createTestAgent(t, agents, "b")
	m := createTestMatch(t, repo, a, b)

	changes := []model.RatingChange{
		{AgentID: a.ID, OldRating: 1200, NewRating: 1220, Won: true},
		{AgentID: b.ID, OldRating: 1200, NewRating: 1180, Won: false},
	}
	applied, err := repo.ApplyRatings(ctx, m.ID, changes)
	if err != nil || !applied {
		t.Fatalf("first apply: applied=%v err=%v", applied, err)
	}
	applied, err = repo.ApplyRatings(ctx, m.ID, changes)
	if err != nil || applied {
		t.Fatalf("second apply: applied=%v err=%v", applied, err)
	}

	winner, _ := agents.FindByID(ctx, a.ID)
	loser, _ := agents.FindByID(ctx, b.ID)
	if winner.Rating != 1220 || winner.Wins != 1 || winner.MatchesPlayed != 1 {
		t.Fatalf("unexpected winner: %+v", winner)
	}
	if loser.Rating != 1180 || loser.Losses != 1 || loser.MatchesPlayed != 1 {
		t.Fatalf("unexpected loser: %+v", loser)
	}

	top, err := agents.Leaderboard(ctx, 1)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(top) != 1 || top[0].ID != a.ID {
		t.Fatalf("expected winner on top, got %+v", top)
	}
}

func TestMissingMatchRow(t *testing.T) {
	setup(t)
	agents := NewAgentRepo(testDB)
	repo := NewMatchRepo(testDB)
	ctx := context.Background()
	a := createTestAgent(t, agents, "a")
	b := createTestAgent(t, agents, "b")
	id := uuid.NewString()

	err := repo.Finish(ctx, id, a.ID, "points", 3, json.RawMessage(`{}`))
	if !errors.Is(err, repository.ErrMatchNotRecorded) {
		t.Fatalf("expected ErrMatchNotRecorded, got %v", err)
	}

	changes := []model.RatingChange{
		{AgentID: a.ID, OldRating: 1200, NewRating: 1216, Won: true},
		{AgentID: b.ID, OldRating: 1200, NewRating: 1184, Won: false},
	}
	applied, err := repo.ApplyRatings(ctx, id, changes)
	if err != nil || !applied {
		t.Fatalf("apply without a match row: applied=%v err=%v", applied, err)
	}
	got, err := repo.FindByID(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("expected the match row to be written, got %v / %v", got, err)
	}
	if got.Status != "complete" || got.Winner != a.ID || got.AgentA != a.ID || !got.RatingApplied {
		t.Errorf("unexpected match row: %+v", got)
	}

	// a late create is a no-op and finish now lands
	if err := repo.Create(ctx, &model.MatchRecord{ID: id, AgentA: a.ID, AgentB: b.ID, Status: "active", TurnNumber: 1, StartedAt: time.Now()}); err != nil {
		t.Fatalf("late create: %v", err)
	}
	if err := repo.Finish(ctx, id, a.ID, "points", 3, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if applied, _ := repo.ApplyRatings(ctx, id, changes); applied {
		t.Error("ratings applied twice")
	}
}
