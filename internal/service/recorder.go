package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexwar/api/internal/model"
	"github.com/freeeve/hexwar/api/internal/rating"
	"github.com/freeeve/hexwar/api/internal/repository"
	"github.com/freeeve/hexwar/api/pkg/arena"
)

// Archiver stores a replay of a completed match.
type Archiver interface {
	ArchiveMatch(ctx context.Context, m *arena.Match, names map[string]string) error
}

type recordJob struct {
	name    string
	matchID string
	durable bool
	fn      func(ctx context.Context) error
}

const (
	defaultAttempts   = 5
	defaultRetryDelay = 500 * time.Millisecond
)

// Recorder writes match events to persistence on a background worker. Game
// progress never waits on it. Snapshots, actions and archives go through a
// bounded buffer and are dropped when it is full. Match rows and rating
// updates are durable: they queue without bound, run ahead of the buffer and
// are retried with backoff.
type Recorder struct {
	matches  repository.MatchRepository
	agents   repository.AgentRepository
	cache    repository.MatchCache
	archiver Archiver
	policy   rating.Policy

	jobs       chan recordJob
	jobTimeout time.Duration
	attempts   int
	retryDelay time.Duration
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	rated      sync.Map

	pendingMu sync.Mutex
	pending   []recordJob
	wake      chan struct{}
}

// NewRecorder creates a Recorder. Any sink may be nil.
func NewRecorder(
	matches repository.MatchRepository,
	agents repository.AgentRepository,
	cache repository.MatchCache,
	archiver Archiver,
	policy rating.Policy,
	buffer int,
) *Recorder {
	if policy == nil {
		policy = rating.Elo{}
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Recorder{
		matches:    matches,
		agents:     agents,
		cache:      cache,
		archiver:   archiver,
		policy:     policy,
		jobs:       make(chan recordJob, buffer),
		jobTimeout: 10 * time.Second,
		attempts:   defaultAttempts,
		retryDelay: defaultRetryDelay,
		wake:       make(chan struct{}, 1),
	}
}

// Start runs the worker until Stop is called.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			if job, ok := r.nextDurable(); ok {
				r.run(ctx, job)
				continue
			}
			select {
			case job, ok := <-r.jobs:
				if !ok {
					for job, ok := r.nextDurable(); ok; job, ok = r.nextDurable() {
						r.run(ctx, job)
					}
					return
				}
				r.run(ctx, job)
			case <-r.wake:
			}
		}
	}()
}

// Stop drains queued writes and stops the worker.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) nextDurable() (recordJob, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if len(r.pending) == 0 {
		return recordJob{}, false
	}
	job := r.pending[0]
	r.pending[0] = recordJob{}
	r.pending = r.pending[1:]
	return job, true
}

// run executes a job. Durable jobs are retried with linear backoff.
func (r *Recorder) run(ctx context.Context, job recordJob) {
	attempts := 1
	if job.durable {
		attempts = r.attempts
	}
	for i := 1; ; i++ {
		err := r.attempt(ctx, job)
		if err == nil {
			return
		}
		if i >= attempts {
			log.Error().Err(err).Str("matchId", job.matchID).Str("job", job.name).
				Int("attempts", i).Msg("Failed to record match event")
			return
		}
		log.Warn().Err(err).Str("matchId", job.matchID).Str("job", job.name).
			Int("attempt", i).Msg("Recording match event failed, retrying")
		time.Sleep(r.retryDelay * time.Duration(i))
	}
}

func (r *Recorder) attempt(ctx context.Context, job recordJob) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.jobTimeout)
	defer cancel()
	return job.fn(jobCtx)
}

func (r *Recorder) enqueue(job recordJob) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		log.Warn().Str("matchId", job.matchID).Str("job", job.name).Msg("Recorder stopped, dropping write")
		return
	}
	if job.durable {
		r.pendingMu.Lock()
		r.pending = append(r.pending, job)
		r.pendingMu.Unlock()
		select {
		case r.wake <- struct{}{}:
		default:
		}
		return
	}
	select {
	case r.jobs <- job:
	default:
		log.Warn().Str("matchId", job.matchID).Str("job", job.name).Msg("Recorder buffer full, dropping write")
	}
}

// MatchStarted persists a new match row.
func (r *Recorder) MatchStarted(rec model.MatchRecord) {
	if r.matches == nil {
		return
	}
	r.enqueue(recordJob{name: "create_match", matchID: rec.ID, durable: true, fn: func(ctx context.Context) error {
		return r.matches.Create(ctx, &rec)
	}})
}

// ActionResolved appends one action to the persisted log.
func (r *Recorder) ActionResolved(rec model.ActionRecord) {
	if r.matches == nil {
		return
	}
	r.enqueue(recordJob{name: "append_action", matchID: rec.MatchID, fn: func(ctx context.Context) error {
		return r.matches.AppendAction(ctx, &rec)
	}})
}

// Snapshot mirrors live match state and its turn deadline to the cache.
func (r *Recorder) Snapshot(matchID string, data json.RawMessage, deadline time.Time) {
	if r.cache == nil {
		return
	}
	r.enqueue(recordJob{name: "snapshot", matchID: matchID, fn: func(ctx context.Context) error {
		if err := r.cache.SaveSnapshot(ctx, matchID, data); err != nil {
			return err
		}
		if deadline.IsZero() {
			return nil
		}
		return r.cache.SetTimer(ctx, matchID, deadline)
	}})
}

// MatchFinished records the outcome, clears live state, revises ratings for
// decisive results and archives the replay. m must not be mutated afterwards.
func (r *Recorder) MatchFinished(m *arena.Match) {
	id := m.ID
	if r.cache != nil {
		r.enqueue(recordJob{name: "clear_live_state", matchID: id, fn: func(ctx context.Context) error {
			if err := r.cache.ClearTimer(ctx, id); err != nil {
				return err
			}
			return r.cache.DeleteSnapshot(ctx, id)
		}})
	}
	if r.matches != nil {
		r.enqueue(recordJob{name: "finish_match", matchID: id, durable: true, fn: func(ctx context.Context) error {
			return r.finish(ctx, m)
		}})
		if m.Reason != arena.ReasonError && m.Winner != arena.NoWinner {
			r.enqueue(recordJob{name: "apply_ratings", matchID: id, durable: true, fn: func(ctx context.Context) error {
				return r.applyRatings(ctx, m)
			}})
		}
	}
	if r.archiver != nil {
		r.enqueue(recordJob{name: "archive", matchID: id, fn: func(ctx context.Context) error {
			return r.archiver.ArchiveMatch(ctx, m, r.displayNames(ctx, m.Seats[:]))
		}})
	}
}

// finish stores the outcome. A match whose create was lost gets its row
// written first.
func (r *Recorder) finish(ctx context.Context, m *arena.Match) error {
	final, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal final state: %w", err)
	}
	err = r.matches.Finish(ctx, m.ID, m.Winner, string(m.Reason), m.TurnNumber, final)
	if !errors.Is(err, repository.ErrMatchNotRecorded) {
		return err
	}
	log.Warn().Str("matchId", m.ID).Msg("Match row missing at finish, recreating")
	rec := model.MatchRecord{
		ID:         m.ID,
		AgentA:     m.Seats[0],
		AgentB:     m.Seats[1],
		Status:     string(arena.StatusActive),
		TurnNumber: m.TurnNumber,
		StartedAt:  time.Now(),
	}
	if err := r.matches.Create(ctx, &rec); err != nil {
		return fmt.Errorf("recreate match row: %w", err)
	}
	return r.matches.Finish(ctx, m.ID, m.Winner, string(m.Reason), m.TurnNumber, final)
}

// applyRatings revises both ratings once per match.
func (r *Recorder) applyRatings(ctx context.Context, m *arena.Match) (err error) {
	if _, dup := r.rated.LoadOrStore(m.ID, struct{}{}); dup {
		return nil
	}
	defer func() {
		if err != nil {
			r.rated.Delete(m.ID)
		}
	}()
	if r.agents == nil {
		return nil
	}

	seats := make([]*model.Agent, len(m.Seats))
	for i, id := range m.Seats {
		a, err := r.agents.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load agent %s: %w", id, err)
		}
		if a == nil {
			return fmt.Errorf("agent %s missing for rating update", id)
		}
		seats[i] = a
	}
	winner, loser := seats[0], seats[1]
	if m.Winner == m.Seats[1] {
		winner, loser = seats[1], seats[0]
	}

	newW, newL := r.policy.Update(
		rating.Player{Rating: winner.Rating, Matches: winner.MatchesPlayed},
		rating.Player{Rating: loser.Rating, Matches: loser.MatchesPlayed},
	)
	changes := make([]model.RatingChange, len(seats))
	for i, a := range seats {
		if a == winner {
			changes[i] = model.RatingChange{AgentID: a.ID, OldRating: a.Rating, NewRating: newW, Won: true}
		} else {
			changes[i] = model.RatingChange{AgentID: a.ID, OldRating: a.Rating, NewRating: newL}
		}
	}
	applied, err := r.matches.ApplyRatings(ctx, m.ID, changes)
	if err != nil {
		return err
	}
	if !applied {
		log.Debug().Str("matchId", m.ID).Msg("Ratings already applied")
		return nil
	}
	log.Info().Str("matchId", m.ID).
		Str("winner", winner.ID).Int("winnerRating", newW).
		Str("loser", loser.ID).Int("loserRating", newL).
		Msg("Ratings updated")
	return nil
}

func (r *Recorder) displayNames(ctx context.Context, ids []string) map[string]string {
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		names[id] = id
		if r.agents == nil {
			continue
		}
		if a, err := r.agents.FindByID(ctx, id); err == nil && a != nil && a.DisplayName != "" {
			names[id] = a.DisplayName
		}
	}
	return names
}
