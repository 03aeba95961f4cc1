//go:build integration

package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/freeeve/hexwar/api/internal/model"
	"github.com/freeeve/hexwar/api/internal/repository/postgres"
	redisrepo "github.com/freeeve/hexwar/api/internal/repository/redis"
	"github.com/freeeve/hexwar/api/internal/testutil"
	"github.com/freeeve/hexwar/api/pkg/arena"
	"github.com/freeeve/hexwar/api/pkg/pow"
)

// testEnv holds shared test infrastructure.
type testEnv struct {
	db        *sql.DB
	rdb       *goredis.Client
	agentRepo *postgres.AgentRepo
	matchRepo *postgres.MatchRepo
	cache     *redisrepo.Client
}

var env *testEnv

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	if env == nil {
		db := testutil.SetupDB(t)
		rdb := testutil.SetupRedis(t)
		env = &testEnv{
			db:        db,
			rdb:       rdb,
			agentRepo: postgres.NewAgentRepo(db),
			matchRepo: postgres.NewMatchRepo(db),
			cache:     redisrepo.NewClientFromPool(rdb),
		}
	}
	testutil.CleanupDB(t, env.db)
	testutil.CleanupRedis(t, env.rdb)
	return env
}

// createAgents registers two agents and returns them in seat order.
func createAgents(t *testing.T, repo *postgres.AgentRepo) (*model.Agent, *model.Agent) {
	t.Helper()
	var out [2]*model.Agent
	for i, name := range []string{"north", "south"} {
		a, err := repo.Upsert(context.Background(), "test", "test-"+name, "Agent "+name)
		if err != nil {
			t.Fatalf("create agent %s: %v", name, err)
		}
		out[i] = a
	}
	return out[0], out[1]
}

// newLiveService wires a MatchService to the real stores, with challenges in
// Redis.
func newLiveService(t *testing.T, e *testEnv, notifier Notifier, configure func(*Config)) (*MatchService, *Recorder) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TurnTimeout = time.Minute
	if configure != nil {
		configure(&cfg)
	}
	recorder := NewRecorder(e.matchRepo, e.agentRepo, e.cache, nil, nil, 0)
	recorder.retryDelay = 10 * time.Millisecond
	recorder.Start(context.Background())
	gate := pow.NewGate(redisrepo.NewChallengeStore(e.cache, 0), 1)
	svc := NewMatchService(cfg, gate, notifier, recorder, e.cache, e.matchRepo)
	t.Cleanup(func() {
		svc.Close()
		recorder.Stop()
	})
	return svc, recorder
}

// TestMatchLifecycle_Persisted plays a one-move match and checks the record,
// action log and ratings in Postgres.
func TestMatchLifecycle_Persisted(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	north, south := createAgents(t, e.agentRepo)

	notifier := &recordingNotifier{}
	svc, recorder := newLiveService(t, e, notifier, func(c *Config) { c.Rules.VictoryPoints = 1 })

	id, err := svc.StartMatch(ctx, north.ID, south.ID)
	if err != nil {
		t.Fatalf("start match: %v", err)
	}
	notice := notifier.lastTurnStart(t, north.ID)
	if _, err := svc.Submit(ctx, id, north.ID, passSub(solve(t, notice.Challenge))); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "match completion", func() bool {
		return len(notifier.find("", EventMatchComplete)) > 0
	})
	recorder.Stop()

	rec, err := e.matchRepo.FindByID(ctx, id)
	if err != nil || rec == nil {
		t.Fatalf("find match: %v", err)
	}
	if rec.Status != "complete" || rec.Winner != north.ID {
		t.Errorf("expected complete match won by north, got %s/%s", rec.Status, rec.Winner)
	}
	if rec.Reason != string(arena.ReasonPoints) {
		t.Errorf("expected points victory, got %q", rec.Reason)
	}
	if !rec.RatingApplied {
		t.Error("expected rating_applied to be set")
	}
	if len(rec.FinalState) == 0 {
		t.Error("expected final state to be stored")
	}

	actions, err := e.matchRepo.ListActions(ctx, id)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 1 || actions[0].ParticipantID != north.ID {
		t.Fatalf("expected one action by north, got %+v", actions)
	}

	n, _ := e.agentRepo.FindByID(ctx, north.ID)
	s, _ := e.agentRepo.FindByID(ctx, south.ID)
	if n.Rating <= s.Rating {
		t.Errorf("winner should outrank loser, got north=%d south=%d", n.Rating, s.Rating)
	}
	if n.Wins != 1 || s.Losses != 1 {
		t.Errorf("unexpected counters north=%+v south=%+v", n, s)
	}

	// Replaying the completion must not touch ratings again.
	applied, err := e.matchRepo.ApplyRatings(ctx, id, []model.RatingChange{
		{AgentID: north.ID, OldRating: n.Rating, NewRating: n.Rating + 50, Won: true},
		{AgentID: south.ID, OldRating: s.Rating, NewRating: s.Rating - 50},
	})
	if err != nil {
		t.Fatalf("apply ratings: %v", err)
	}
	if applied {
		t.Error("ratings applied twice for the same match")
	}
}

// TestRecover_FromRedis restarts the service and resumes a live match from
// its Redis snapshot.
func TestRecover_FromRedis(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	north, south := createAgents(t, e.agentRepo)

	first, _ := newLiveService(t, e, &recordingNotifier{}, nil)
	id, err := first.StartMatch(ctx, north.ID, south.ID)
	if err != nil {
		t.Fatalf("start match: %v", err)
	}
	waitFor(t, "snapshot", func() bool {
		raws, _ := e.cache.ListSnapshots(ctx)
		return len(raws) == 1
	})
	first.Close()

	notifier := &recordingNotifier{}
	restored, _ := newLiveService(t, e, notifier, nil)
	if err := restored.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	notice := notifier.lastTurnStart(t, north.ID)
	if notice.MatchID != id || notice.Challenge == nil {
		t.Fatalf("expected a fresh challenge after recovery, got %+v", notice)
	}
	if _, err := restored.Submit(ctx, id, north.ID, passSub(solve(t, notice.Challenge))); err != nil {
		t.Fatalf("submit after recovery: %v", err)
	}
}
