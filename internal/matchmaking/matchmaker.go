package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// ErrInMatch is returned when an agent already playing tries to queue.
var ErrInMatch = errors.New("already in an active match")

// MatchStarter creates matches. Implemented by the match service.
type MatchStarter interface {
	StartMatch(ctx context.Context, a, b string) (string, error)
	InMatch(participantID string) bool
}

// QueueMirror persists queue membership so it survives a restart.
type QueueMirror interface {
	SaveQueueEntry(ctx context.Context, e Entry) error
	DeleteQueueEntry(ctx context.Context, participantID string) error
	LoadQueue(ctx context.Context) ([]Entry, error)
}

// Matchmaker owns the pool and forms matches on a fixed interval.
type Matchmaker struct {
	pool     *Pool
	starter  MatchStarter
	mirror   QueueMirror
	interval time.Duration
	now      func() time.Time
	sched    gocron.Scheduler
}

// New creates a Matchmaker. mirror may be nil.
func New(pool *Pool, starter MatchStarter, mirror QueueMirror, interval time.Duration) *Matchmaker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Matchmaker{
		pool:     pool,
		starter:  starter,
		mirror:   mirror,
		interval: interval,
		now:      time.Now,
	}
}

// Enqueue adds the agent to the pool.
func (m *Matchmaker) Enqueue(ctx context.Context, participantID string, rating int) (Entry, error) {
	if m.starter.InMatch(participantID) {
		return Entry{}, ErrInMatch
	}
	e, err := m.pool.Add(Entry{ParticipantID: participantID, Rating: rating}, m.now())
	if err != nil {
		return Entry{}, err
	}
	if m.mirror != nil {
		if err := m.mirror.SaveQueueEntry(ctx, e); err != nil {
			log.Warn().Err(err).Str("participantId", participantID).Msg("Failed to mirror queue entry")
		}
	}
	log.Info().Str("participantId", participantID).Int("rating", rating).Msg("Agent queued")
	return e, nil
}

// Cancel removes the agent from the pool.
func (m *Matchmaker) Cancel(ctx context.Context, participantID string) error {
	if !m.pool.Remove(participantID) {
		return ErrNotQueued
	}
	m.forget(ctx, participantID)
	log.Info().Str("participantId", participantID).Msg("Agent left queue")
	return nil
}

// Status returns the agent's queue entry as of now.
func (m *Matchmaker) Status(participantID string) (Entry, bool) {
	return m.pool.Get(participantID, m.now())
}

// Tick runs one pairing pass and starts a match for every pair formed.
// It returns the ids of the matches started.
func (m *Matchmaker) Tick(ctx context.Context) []string {
	pairs := m.pool.Pair(m.now())
	var started []string
	for _, p := range pairs {
		m.forget(ctx, p.A.ParticipantID)
		m.forget(ctx, p.B.ParticipantID)

		id, err := m.starter.StartMatch(ctx, p.A.ParticipantID, p.B.ParticipantID)
		if err != nil {
			log.Error().Err(err).
				Str("a", p.A.ParticipantID).Str("b", p.B.ParticipantID).
				Msg("Failed to start paired match")
			m.requeue(ctx, p.A)
			m.requeue(ctx, p.B)
			continue
		}
		log.Info().Str("matchId", id).
			Str("a", p.A.ParticipantID).Int("ratingA", p.A.Rating).
			Str("b", p.B.ParticipantID).Int("ratingB", p.B.Rating).
			Msg("Match formed")
		started = append(started, id)
	}
	return started
}

// Restore reloads mirrored queue entries, keeping their original wait times.
func (m *Matchmaker) Restore(ctx context.Context) error {
	if m.mirror == nil {
		return nil
	}
	entries, err := m.mirror.LoadQueue(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	restored := 0
	for _, e := range entries {
		if m.starter.InMatch(e.ParticipantID) {
			m.forget(ctx, e.ParticipantID)
			continue
		}
		if _, err := m.pool.Add(e, m.now()); err == nil {
			restored++
		}
	}
	log.Info().Int("count", restored).Msg("Restored matchmaking queue")
	return nil
}

// Start schedules Tick on the configured interval.
func (m *Matchmaker) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(func() { m.Tick(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule matchmaker: %w", err)
	}
	sched.Start()
	m.sched = sched
	log.Info().Dur("interval", m.interval).Msg("Matchmaker started")
	return nil
}

// Stop shuts the scheduler down.
func (m *Matchmaker) Stop() error {
	if m.sched == nil {
		return nil
	}
	return m.sched.Shutdown()
}

// requeue puts an entry back after a failed start, keeping its wait time.
// Agents that are now in a match stay out.
func (m *Matchmaker) requeue(ctx context.Context, e Entry) {
	if m.starter.InMatch(e.ParticipantID) {
		return
	}
	e, err := m.pool.Add(e, m.now())
	if err != nil {
		return
	}
	if m.mirror != nil {
		if err := m.mirror.SaveQueueEntry(ctx, e); err != nil {
			log.Warn().Err(err).Str("participantId", e.ParticipantID).Msg("Failed to mirror queue entry")
		}
	}
	log.Info().Str("participantId", e.ParticipantID).Msg("Agent returned to queue")
}

func (m *Matchmaker) forget(ctx context.Context, participantID string) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.DeleteQueueEntry(ctx, participantID); err != nil {
		log.Warn().Err(err).Str("participantId", participantID).Msg("Failed to remove mirrored queue entry")
	}
}
