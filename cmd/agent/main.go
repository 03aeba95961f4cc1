package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexwar/api/internal/agent"
)

func main() {
	url := flag.String("url", "http://localhost:3009", "server base URL")
	name := flag.String("name", "greedy-agent", "dev login name")
	strategyName := flag.String("strategy", "greedy", "agent strategy (greedy, random, pass)")
	matches := flag.Int("matches", 1, "number of matches to play before exiting")
	seed := flag.Int64("seed", 0, "seed for the random strategy (0 = random)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("Received shutdown signal")
		cancel()
	}()

	client := agent.NewClient(*name, *url)
	if err := client.Login(ctx); err != nil {
		log.Fatal().Err(err).Msg("Login failed")
	}
	player := agent.NewPlayer(client.AgentID(), agent.StrategyFor(*strategyName, *seed), client)

	if err := client.ConnectWS(ctx, player.Wake); err != nil {
		log.Warn().Err(err).Msg("WebSocket unavailable, falling back to polling")
	}
	defer client.CloseWS()

	for i := 0; i < *matches && ctx.Err() == nil; i++ {
		if err := client.Enqueue(ctx); err != nil {
			log.Fatal().Err(err).Msg("Enqueue failed")
		}
		log.Info().Str("agentId", client.AgentID()).Msg("Waiting for an opponent")

		matchID, err := client.WaitForMatch(ctx, time.Second)
		if err != nil {
			log.Fatal().Err(err).Msg("Matchmaking failed")
		}
		log.Info().Str("matchId", matchID).Msg("Match started")

		final, err := player.Play(ctx, matchID)
		if err != nil {
			log.Fatal().Err(err).Str("matchId", matchID).Msg("Match play failed")
		}
		submitted, rejected := player.Stats()
		log.Info().
			Str("matchId", matchID).
			Str("winner", final.Winner).
			Str("reason", string(final.Reason)).
			Int("turns", final.Turn).
			Int("submitted", submitted).
			Int("rejected", rejected).
			Msg("Match completed")
	}
}
