package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexwar/api/internal/agent"
	"github.com/freeeve/hexwar/api/internal/repository"
	"github.com/freeeve/hexwar/api/internal/repository/postgres"
	"github.com/freeeve/hexwar/api/internal/service"
	"github.com/freeeve/hexwar/api/pkg/arena"
	"github.com/freeeve/hexwar/api/pkg/pow"
)

// gameResult is the outcome of one self-play match.
type gameResult struct {
	Game     int    `json:"game"`
	MatchID  string `json:"match_id"`
	Winner   string `json:"winner"` // strategy name, "none" or "" if unfinished
	Seat     int    `json:"seat"`   // winning seat, -1 if none
	Reason   string `json:"reason"`
	Turns    int    `json:"turns"`
	Rejected int    `json:"rejected"`
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var (
		stratA      string
		stratB      string
		numGames    int
		workers     int
		difficulty  int
		seed        int64
		gameTimeout time.Duration
		dbURL       string
		jsonOut     bool
	)

	flag.StringVar(&stratA, "a", "greedy", "Strategy in seat 0 (greedy, random, pass)")
	flag.StringVar(&stratB, "b", "random", "Strategy in seat 1")
	flag.IntVar(&numGames, "n", 10, "Number of matches to run")
	flag.IntVar(&workers, "workers", 4, "Concurrency (parallel matches)")
	flag.IntVar(&difficulty, "difficulty", 1, "Proof-of-work difficulty in leading zero hex digits")
	flag.Int64Var(&seed, "seed", 0, "Base seed for random strategies (0 = random)")
	flag.DurationVar(&gameTimeout, "game-timeout", 2*time.Minute, "Abandon a match after this long")
	flag.StringVar(&dbURL, "db", "", "Record matches and ratings to this database (optional)")
	flag.BoolVar(&jsonOut, "json", false, "Output results as JSON")
	flag.Parse()

	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	var agents repository.AgentRepository
	var matches repository.MatchRepository
	if dbURL != "" {
		db, err := postgres.Connect(dbURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Database connection failed")
		}
		defer db.Close()
		agents = postgres.NewAgentRepo(db)
		matches = postgres.NewMatchRepo(db)
	}

	recorder := service.NewRecorder(matches, agents, nil, nil, nil, 0)
	recorder.Start(ctx)
	defer recorder.Stop()

	roster := agent.NewRoster()
	cfg := service.DefaultConfig()
	svc := service.NewMatchService(cfg, pow.NewGate(pow.NewMemoryStore(), difficulty), roster, recorder, nil, matches)
	defer svc.Close()

	// each worker slot owns a fixed pair of participant ids, since an id
	// can only sit in one live match at a time
	seats := make(chan [2]string, workers)
	for w := range workers {
		pair, err := seatPair(ctx, agents, fmt.Sprintf("w%d", w), stratA, stratB)
		if err != nil {
			log.Fatal().Err(err).Msg("Registering self-play agents failed")
		}
		seats <- pair
	}

	results := make([]*gameResult, numGames)
	var wg sync.WaitGroup
	errCount := 0
	var mu sync.Mutex

	for i := range numGames {
		var pair [2]string
		select {
		case pair = <-seats:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := pair
			defer func() { seats <- next }()

			var gameSeed int64
			if seed != 0 {
				gameSeed = seed + int64(i)*2
			}
			players := [2]*agent.Player{
				agent.NewPlayer(pair[0], agent.StrategyFor(stratA, gameSeed), svc),
				agent.NewPlayer(pair[1], agent.StrategyFor(stratB, gameSeed+1), svc),
			}
			res, err := playOne(ctx, svc, roster, players, gameTimeout)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error().Err(err).Int("game", i+1).Msg("Match failed")
				errCount++
				return
			}
			res.Game = i + 1
			results[i] = res
			if res.Reason == "timeout" {
				// the abandoned match still holds these ids
				if fresh, err := seatPair(ctx, agents, fmt.Sprintf("g%d", i+1), stratA, stratB); err == nil {
					next = fresh
				}
			}
			log.Info().Int("game", i+1).Str("winner", res.Winner).Str("reason", res.Reason).Int("turns", res.Turns).Msg("Match completed")
		}()
	}
	wg.Wait()

	if jsonOut {
		printJSON(results, numGames, errCount)
	} else {
		printSummary(results, stratA, stratB, errCount)
	}
}

// seatPair returns a pair of participant ids, registering them as agents
// when a database is configured.
func seatPair(ctx context.Context, agents repository.AgentRepository, tag, a, b string) ([2]string, error) {
	names := [2]string{
		fmt.Sprintf("selfplay-%s-a-%s", a, tag),
		fmt.Sprintf("selfplay-%s-b-%s", b, tag),
	}
	if agents == nil {
		return names, nil
	}
	var ids [2]string
	for i, name := range names {
		ag, err := agents.Upsert(ctx, "selfplay", name, name)
		if err != nil {
			return ids, err
		}
		ids[i] = ag.ID
	}
	return ids, nil
}

func playOne(ctx context.Context, svc *service.MatchService, roster *agent.Roster, players [2]*agent.Player, timeout time.Duration) (*gameResult, error) {
	for _, p := range players {
		roster.Add(p)
		defer roster.Remove(p.ID)
	}

	matchID, err := svc.StartMatch(ctx, players[0].ID, players[1].ID)
	if err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var wg sync.WaitGroup
	finals := make([]*service.TurnNotice, 2)
	errs := make([]error, 2)
	for i, p := range players {
		wg.Add(1)
		go func() {
			defer wg.Done()
			finals[i], errs[i] = p.Play(gctx, matchID)
		}()
	}
	wg.Wait()

	res := &gameResult{MatchID: matchID, Seat: -1}
	for _, p := range players {
		_, rejected := p.Stats()
		res.Rejected += rejected
	}
	final := finals[0]
	if final == nil {
		final = finals[1]
	}
	if final == nil {
		if gctx.Err() != nil && ctx.Err() == nil {
			res.Reason = "timeout"
			return res, nil
		}
		return nil, fmt.Errorf("play %s: %v / %v", matchID, errs[0], errs[1])
	}

	res.Reason = string(final.Reason)
	res.Turns = final.Turn
	switch final.Winner {
	case players[0].ID:
		res.Seat, res.Winner = 0, players[0].Strategy.Name()
	case players[1].ID:
		res.Seat, res.Winner = 1, players[1].Strategy.Name()
	default:
		res.Winner = arena.NoWinner
	}
	return res, nil
}

func printSummary(results []*gameResult, stratA, stratB string, errCount int) {
	var wins [2]int
	reasons := make(map[string]int)
	completed, turns, rejected := 0, 0, 0
	for _, r := range results {
		if r == nil {
			continue
		}
		completed++
		turns += r.Turns
		rejected += r.Rejected
		reasons[r.Reason]++
		if r.Seat >= 0 {
			wins[r.Seat]++
		}
	}

	fmt.Printf("\nResults (%d matches):\n", completed)
	if errCount > 0 {
		fmt.Printf("  (%d matches failed)\n", errCount)
	}
	fmt.Printf("  seat 0 %-8s %d wins\n", stratA, wins[0])
	fmt.Printf("  seat 1 %-8s %d wins\n", stratB, wins[1])
	if completed > 0 {
		fmt.Printf("  avg turns: %.1f, rejected submissions: %d\n", float64(turns)/float64(completed), rejected)
	}

	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-12s %d\n", k, reasons[k])
	}
}

func printJSON(results []*gameResult, total, errCount int) {
	out := struct {
		Total   int           `json:"total"`
		Errors  int           `json:"errors"`
		Results []*gameResult `json:"results"`
	}{
		Total:   total,
		Errors:  errCount,
		Results: results,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}
