package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/hexwar/api/internal/auth"
	"github.com/freeeve/hexwar/api/internal/handler"
	"github.com/freeeve/hexwar/api/internal/service"
	"github.com/freeeve/hexwar/api/pkg/arena"
	"github.com/freeeve/hexwar/api/pkg/pow"
)

// testServer serves the real match and ws handlers. Login and the queue are
// stubbed: the dev login name becomes the agent id and the second enqueue
// starts a match.
type testServer struct {
	*httptest.Server
	svc *service.MatchService

	mu      sync.Mutex
	waiting string
	paired  map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hub := handler.NewHub()
	cfg := service.DefaultConfig()
	cfg.TurnTimeout = time.Minute
	ts := &testServer{
		svc:    service.NewMatchService(cfg, pow.NewGate(pow.NewMemoryStore(), 1), hub, nil, nil, nil),
		paired: make(map[string]string),
	}
	t.Cleanup(ts.svc.Close)

	jwtMgr := auth.NewJWTManager("client-test-secret")
	matches := handler.NewMatchHandler(ts.svc)

	api := http.NewServeMux()
	api.HandleFunc("GET /agents/me", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": auth.AgentIDFromContext(r.Context())})
	})
	api.HandleFunc("POST /queue", ts.enqueue)
	api.HandleFunc("GET /queue", ts.status)
	api.HandleFunc("GET /matches/{id}/turn", matches.CurrentTurn)
	api.HandleFunc("POST /matches/{id}/actions", matches.SubmitAction)
	api.HandleFunc("POST /matches/{id}/ack", matches.Ack)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/dev", func(w http.ResponseWriter, r *http.Request) {
		pair, err := jwtMgr.GenerateTokenPair(r.URL.Query().Get("name"))
		require.NoError(t, err)
		json.NewEncoder(w).Encode(pair)
	})
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", auth.Middleware(jwtMgr)(api)))
	mux.HandleFunc("GET /api/v1/ws", handler.NewWSHandler(hub, jwtMgr, ts.svc).ServeWS)

	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) enqueue(w http.ResponseWriter, r *http.Request) {
	id := auth.AgentIDFromContext(r.Context())
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.waiting == "" {
		ts.waiting = id
		w.WriteHeader(http.StatusAccepted)
		return
	}
	matchID, err := ts.svc.StartMatch(r.Context(), ts.waiting, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ts.paired[ts.waiting], ts.paired[id] = matchID, matchID
	ts.waiting = ""
	w.WriteHeader(http.StatusAccepted)
}

func (ts *testServer) status(w http.ResponseWriter, r *http.Request) {
	id := auth.AgentIDFromContext(r.Context())
	ts.mu.Lock()
	defer ts.mu.Unlock()
	json.NewEncoder(w).Encode(service.QueueStatus{Queued: ts.waiting == id, MatchID: ts.paired[id]})
}

func loginPair(t *testing.T, ts *testServer) (*Client, *Client, string) {
	t.Helper()
	ctx := context.Background()
	alice := NewClient("alice", ts.URL)
	bob := NewClient("bob", ts.URL)
	require.NoError(t, alice.Login(ctx))
	require.NoError(t, bob.Login(ctx))
	assert.Equal(t, "alice", alice.AgentID())

	require.NoError(t, alice.Enqueue(ctx))
	require.NoError(t, bob.Enqueue(ctx))

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	matchID, err := alice.WaitForMatch(wctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, matchID)
	return alice, bob, matchID
}

func TestClientRejectionDecoded(t *testing.T) {
	ts := newTestServer(t)
	alice, bob, matchID := loginPair(t, ts)
	ctx := context.Background()

	// alice holds the first seat
	_, err := bob.Submit(ctx, matchID, bob.AgentID(), service.Submission{
		Command:   arena.Pass{}.Envelope(),
		Rationale: "waiting for the other side to commit",
	})
	rej, ok := service.IsRejection(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, service.CodeNotYourTurn, rej.Code)

	n, err := alice.CurrentTurn(ctx, matchID, alice.AgentID())
	require.NoError(t, err)
	require.True(t, n.YourTurn)
	require.NotNil(t, n.Challenge)
	require.NotNil(t, n.State)
	assert.Len(t, n.State.Sectors, n.State.Grid.Size())

	nonce, err := pow.Solve(ctx, n.Challenge.Prefix, n.Challenge.Difficulty)
	require.NoError(t, err)
	_, err = alice.Submit(ctx, matchID, alice.AgentID(), service.Submission{
		Command:   arena.Pass{}.Envelope(),
		Rationale: "short",
		Nonce:     nonce,
	})
	rej, ok = service.IsRejection(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, service.CodeRationaleTooShort, rej.Code)

	res, err := alice.Submit(ctx, matchID, alice.AgentID(), service.Submission{
		Command:   arena.Pass{}.Envelope(),
		Rationale: "holding position this turn",
		Nonce:     nonce,
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", res.NextParticipant)

	err = alice.Ack(ctx, matchID, alice.AgentID())
	assert.ErrorIs(t, err, service.ErrMatchStillActive)
}

func TestClientMissingMatch(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient("carol", ts.URL)
	require.NoError(t, c.Login(context.Background()))

	_, err := c.CurrentTurn(context.Background(), "no-such-match", c.AgentID())
	assert.ErrorIs(t, err, service.ErrMatchNotFound)
}

func TestClientPlaysRemoteMatch(t *testing.T) {
	ts := newTestServer(t)
	alice, bob, matchID := loginPair(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	players := []*Player{
		NewPlayer(alice.AgentID(), GreedyStrategy{}, alice),
		NewPlayer(bob.AgentID(), PassStrategy{}, bob),
	}
	for i, c := range []*Client{alice, bob} {
		require.NoError(t, c.ConnectWS(ctx, players[i].Wake))
		defer c.CloseWS()
	}

	var wg sync.WaitGroup
	finals := make([]*service.TurnNotice, 2)
	errs := make([]error, 2)
	for i, p := range players {
		wg.Add(1)
		go func() {
			defer wg.Done()
			finals[i], errs[i] = p.Play(ctx, matchID)
		}()
	}
	wg.Wait()

	for i := range players {
		require.NoError(t, errs[i])
		require.NotNil(t, finals[i])
		assert.Equal(t, arena.StatusComplete, finals[i].Status)
	}
	assert.Equal(t, finals[0].Winner, finals[1].Winner)
	submitted, _ := players[0].Stats()
	assert.Positive(t, submitted)
}
