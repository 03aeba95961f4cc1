package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexwar/api/internal/archive"
	"github.com/freeeve/hexwar/api/internal/auth"
	"github.com/freeeve/hexwar/api/internal/config"
	"github.com/freeeve/hexwar/api/internal/handler"
	"github.com/freeeve/hexwar/api/internal/logger"
	"github.com/freeeve/hexwar/api/internal/matchmaking"
	"github.com/freeeve/hexwar/api/internal/middleware"
	"github.com/freeeve/hexwar/api/internal/repository/postgres"
	redisrepo "github.com/freeeve/hexwar/api/internal/repository/redis"
	"github.com/freeeve/hexwar/api/internal/service"
	"github.com/freeeve/hexwar/api/pkg/arena"
	"github.com/freeeve/hexwar/api/pkg/pow"
)

func main() {
	logger.Init()
	cfg := config.Load()
	log.Info().Str("port", cfg.Port).Dur("turnTimeout", cfg.TurnTimeout).Int("powDifficulty", cfg.PowDifficulty).Msg("Config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	// Redis
	redisClient, err := redisrepo.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClient.Close()

	if err := redisClient.EnableExpiryEvents(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to set Redis keyspace notifications (timer expiry falls back to polling)")
	}

	// Repos
	agentRepo := postgres.NewAgentRepo(db)
	matchRepo := postgres.NewMatchRepo(db)

	// Replay archive (optional)
	var archiver service.Archiver
	if cfg.ArchiveBucket != "" {
		a, err := archive.New(ctx, archive.Options{
			Bucket:          cfg.ArchiveBucket,
			Region:          cfg.AWSRegion,
			Endpoint:        cfg.ArchiveEndpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretKey,
			Prefix:          cfg.ArchivePrefix,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Replay archive setup failed")
		}
		archiver = a
		log.Info().Str("bucket", cfg.ArchiveBucket).Msg("Replay archive enabled")
	}

	// Auth
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret)
	googleOAuth := auth.NewGoogleOAuth(cfg.GoogleClientID, cfg.GoogleSecret, cfg.GoogleRedirectURL)

	// WebSocket hub doubles as the push notifier
	wsHub := handler.NewHub()

	// Services
	recorder := service.NewRecorder(matchRepo, agentRepo, redisClient, archiver, nil, 0)
	recorder.Start(ctx)

	gate := pow.NewGate(redisrepo.NewChallengeStore(redisClient, 0), cfg.PowDifficulty)
	matchSvc := service.NewMatchService(service.Config{
		Rules:              arena.DefaultRules(),
		TurnTimeout:        cfg.TurnTimeout,
		MinRationaleLength: cfg.MinRationaleLength,
		Retention:          cfg.MatchRetention,
		ForfeitAfter:       cfg.ForfeitAfter,
	}, gate, wsHub, recorder, redisClient, matchRepo)

	// Recover live matches before accepting traffic
	if err := matchSvc.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to recover live matches (non-fatal)")
	}

	mm := matchmaking.New(matchmaking.NewPool(matchmaking.DefaultRangePolicy()), matchSvc, redisClient, cfg.MatchmakerInterval)
	if err := mm.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to restore matchmaking queue (non-fatal)")
	}
	if err := mm.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Matchmaker start failed")
	}
	agentSvc := service.NewAgentService(agentRepo, matchRepo, mm, matchSvc)

	// Timer listener (forced pass backup for lost in-process timers)
	timerListener := service.NewTimerListener(redisClient.Underlying(), matchSvc, cfg.TimerPollInterval)

	// Per-agent submission limit; idle buckets are pruned on a schedule
	submitLimiter := middleware.NewRateLimiter(cfg.SubmitRatePerSec, cfg.SubmitBurst)
	housekeeping, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal().Err(err).Msg("Scheduler setup failed")
	}
	if _, err := housekeeping.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			if n := submitLimiter.Prune(); n > 0 {
				log.Debug().Int("count", n).Msg("Pruned idle rate limiters")
			}
		}),
	); err != nil {
		log.Fatal().Err(err).Msg("Scheduling limiter prune failed")
	}
	housekeeping.Start()

	// Handlers
	authHandler := handler.NewAuthHandler(googleOAuth, jwtMgr, agentRepo, cfg.DevMode)
	agentHandler := handler.NewAgentHandler(agentSvc)
	queueHandler := handler.NewQueueHandler(agentSvc)
	matchHandler := handler.NewMatchHandler(matchSvc)
	wsHandler := handler.NewWSHandler(wsHub, jwtMgr, matchSvc)

	// Router
	mux := http.NewServeMux()
	authMw := auth.Middleware(jwtMgr)
	perAgent := submitLimiter.Limit(func(r *http.Request) string {
		return auth.AgentIDFromContext(r.Context())
	})

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth (public)
	mux.HandleFunc("GET /auth/google/login", authHandler.GoogleLogin)
	mux.HandleFunc("GET /auth/google/callback", authHandler.GoogleCallback)
	mux.HandleFunc("POST /auth/refresh", authHandler.RefreshToken)
	mux.HandleFunc("GET /auth/dev", authHandler.DevLogin)

	// Protected API routes
	api := http.NewServeMux()
	api.HandleFunc("GET /agents/me", agentHandler.GetMe)
	api.HandleFunc("PATCH /agents/me", agentHandler.UpdateMe)
	api.HandleFunc("GET /agents/{id}", agentHandler.GetAgent)
	api.HandleFunc("GET /leaderboard", agentHandler.Leaderboard)
	api.HandleFunc("POST /queue", queueHandler.Enqueue)
	api.HandleFunc("DELETE /queue", queueHandler.Cancel)
	api.HandleFunc("GET /queue", queueHandler.Status)
	api.HandleFunc("GET /matches/{id}", matchHandler.GetMatch)
	api.HandleFunc("GET /matches/{id}/turn", matchHandler.CurrentTurn)
	api.Handle("POST /matches/{id}/actions", perAgent(http.HandlerFunc(matchHandler.SubmitAction)))
	api.HandleFunc("POST /matches/{id}/ack", matchHandler.Ack)
	api.HandleFunc("GET /matches/{id}/actions", matchHandler.ListActions)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", authMw(api)))

	// WebSocket (auth via query param, not middleware)
	mux.HandleFunc("GET /api/v1/ws", wsHandler.ServeWS)

	// Apply global middleware
	root := middleware.Chain(mux, middleware.Logger, middleware.CORS(cfg.AllowedOrigins), middleware.JSON)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go timerListener.Start(ctx)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	if err := mm.Stop(); err != nil {
		log.Warn().Err(err).Msg("Matchmaker shutdown error")
	}
	if err := housekeeping.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("Scheduler shutdown error")
	}
	cancel()
	matchSvc.Close()
	// drain pending persistence writes last
	recorder.Stop()
	log.Info().Msg("Server stopped")
}
