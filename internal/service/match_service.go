package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexwar/api/internal/model"
	"github.com/freeeve/hexwar/api/internal/repository"
	"github.com/freeeve/hexwar/api/pkg/arena"
	"github.com/freeeve/hexwar/api/pkg/pow"
)

var (
	ErrMatchNotFound    = errors.New("match not found")
	ErrNotParticipant   = errors.New("you are not in this match")
	ErrMatchStillActive = errors.New("match is still active")
	ErrAlreadyInMatch   = errors.New("participant is already in an active match")
	ErrSameParticipant  = errors.New("a participant cannot play itself")
)

// Config tunes the turn lifecycle.
type Config struct {
	Rules              arena.Rules
	TurnTimeout        time.Duration
	MinRationaleLength int
	Retention          time.Duration
	ForfeitAfter       int // consecutive forced passes
}

// DefaultConfig returns the standard turn settings.
func DefaultConfig() Config {
	return Config{
		Rules:              arena.DefaultRules(),
		TurnTimeout:        30 * time.Second,
		MinRationaleLength: 10,
		Retention:          10 * time.Minute,
		ForfeitAfter:       3,
	}
}

// MatchService is the registry of live matches. Each match is driven by its
// own controller goroutine; the service only routes requests to it.
type MatchService struct {
	cfg      Config
	gate     *pow.Gate
	notifier Notifier
	recorder *Recorder
	cache    repository.MatchCache
	matches  repository.MatchRepository

	registry     sync.Map // matchID -> *controller
	participants sync.Map // participantID -> matchID
	startMu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewMatchService creates a MatchService. cache and matches may be nil.
func NewMatchService(
	cfg Config,
	gate *pow.Gate,
	notifier Notifier,
	recorder *Recorder,
	cache repository.MatchCache,
	matches repository.MatchRepository,
) *MatchService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if recorder == nil {
		recorder = NewRecorder(nil, nil, nil, nil, nil, 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MatchService{
		cfg:      cfg,
		gate:     gate,
		notifier: notifier,
		recorder: recorder,
		cache:    cache,
		matches:  matches,
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Close stops every match controller.
func (s *MatchService) Close() {
	s.cancel()
}

// StartMatch creates a match between a and b, with a moving first.
func (s *MatchService) StartMatch(ctx context.Context, a, b string) (string, error) {
	if a == b {
		return "", ErrSameParticipant
	}
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.InMatch(a) || s.InMatch(b) {
		return "", ErrAlreadyInMatch
	}

	id := uuid.NewString()
	s.rngMu.Lock()
	seed := s.rng.Int63()
	s.rngMu.Unlock()
	m := arena.NewMatch(id, a, b, s.cfg.Rules, rand.New(rand.NewSource(seed)))

	c := newController(s, m, nil)
	s.register(c)
	s.recorder.MatchStarted(model.MatchRecord{
		ID:         id,
		AgentA:     a,
		AgentB:     b,
		Status:     string(arena.StatusActive),
		TurnNumber: m.TurnNumber,
		StartedAt:  s.now(),
	})
	c.start(s.ctx, true)
	return id, nil
}

// InMatch reports whether the participant is seated in an active match.
func (s *MatchService) InMatch(participantID string) bool {
	_, ok := s.participants.Load(participantID)
	return ok
}

// ActiveMatchFor returns the participant's active match id.
func (s *MatchService) ActiveMatchFor(participantID string) (string, bool) {
	v, ok := s.participants.Load(participantID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// ActiveCount returns the number of matches in the registry.
func (s *MatchService) ActiveCount() int {
	n := 0
	s.registry.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Submit validates and resolves one action. Rejections are *Rejection.
func (s *MatchService) Submit(ctx context.Context, matchID, participantID string, sub Submission) (*SubmitResult, error) {
	c, err := s.lookup(matchID)
	if err != nil {
		return nil, err
	}
	return request(ctx, c, func(ch chan reply[*SubmitResult]) any {
		return submitEvent{pid: participantID, sub: sub, reply: ch}
	})
}

// CurrentTurn is the poll form of the turn-start notice. The active
// participant is issued a fresh challenge on every call.
func (s *MatchService) CurrentTurn(ctx context.Context, matchID, participantID string) (*TurnNotice, error) {
	c, err := s.lookup(matchID)
	if err != nil {
		return nil, err
	}
	return request(ctx, c, func(ch chan reply[*TurnNotice]) any {
		return turnEvent{pid: participantID, reply: ch}
	})
}

// Ack records that a participant has seen the completed match. The match is
// removed once both have acknowledged.
func (s *MatchService) Ack(ctx context.Context, matchID, participantID string) error {
	c, err := s.lookup(matchID)
	if err != nil {
		return err
	}
	_, err = request(ctx, c, func(ch chan reply[struct{}]) any {
		return ackEvent{pid: participantID, reply: ch}
	})
	return err
}

// View returns the match from the registry, falling back to the stored
// final state for matches that were already torn down.
func (s *MatchService) View(ctx context.Context, matchID string) (*MatchView, error) {
	if c, err := s.lookup(matchID); err == nil {
		v, err := request(ctx, c, func(ch chan reply[*MatchView]) any {
			return viewEvent{reply: ch}
		})
		if !errors.Is(err, ErrMatchNotFound) {
			return v, err
		}
	}
	if s.matches == nil {
		return nil, ErrMatchNotFound
	}
	rec, err := s.matches.FindByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if rec == nil || len(rec.FinalState) == 0 {
		return nil, ErrMatchNotFound
	}
	var m arena.Match
	if err := json.Unmarshal(rec.FinalState, &m); err != nil {
		return nil, fmt.Errorf("decode final state: %w", err)
	}
	return &MatchView{Match: &m, Scores: m.Scores()}, nil
}

// Actions returns the persisted action log, or the in-memory log when no
// repository is configured.
func (s *MatchService) Actions(ctx context.Context, matchID string) ([]model.ActionRecord, error) {
	if s.matches != nil {
		return s.matches.ListActions(ctx, matchID)
	}
	v, err := s.View(ctx, matchID)
	if err != nil {
		return nil, err
	}
	out := make([]model.ActionRecord, 0, len(v.ActionLog))
	for i, e := range v.ActionLog {
		cmd, _ := json.Marshal(e.Command)
		res, _ := json.Marshal(e.Result)
		out = append(out, model.ActionRecord{
			MatchID:       matchID,
			Seq:           i,
			Turn:          e.Turn,
			ParticipantID: e.Participant,
			Command:       cmd,
			Result:        res,
			Forced:        e.Forced,
		})
	}
	return out, nil
}

// ExpireTurn asks a match to force a pass if its deadline has passed.
func (s *MatchService) ExpireTurn(matchID string) {
	if c, err := s.lookup(matchID); err == nil {
		go c.post(sweepEvent{now: s.now()})
	}
}

// SweepOverdue asks every match to check its deadline.
func (s *MatchService) SweepOverdue() {
	now := s.now()
	s.registry.Range(func(_, v any) bool {
		c := v.(*controller)
		go c.post(sweepEvent{now: now})
		return true
	})
}

// Recover restores live matches from cached snapshots. Each restored match
// starts a fresh turn with a new challenge and deadline.
func (s *MatchService) Recover(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	raws, err := s.cache.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(raws) == 0 {
		log.Info().Msg("No live matches to recover")
		return nil
	}

	recovered := 0
	for _, raw := range raws {
		var snap snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			log.Error().Err(err).Msg("Failed to decode match snapshot")
			continue
		}
		m := snap.Match
		if m == nil || m.Status != arena.StatusActive {
			continue
		}
		if _, loaded := s.registry.Load(m.ID); loaded {
			continue
		}
		c := newController(s, m, snap.Forced)
		s.register(c)
		c.start(s.ctx, false)
		recovered++
		log.Info().Str("matchId", m.ID).Int("turn", m.TurnNumber).
			Str("active", m.ActiveParticipant).Msg("Recovered match")
	}
	log.Info().Int("count", recovered).Msg("Match recovery complete")
	return nil
}

func (s *MatchService) lookup(matchID string) (*controller, error) {
	v, ok := s.registry.Load(matchID)
	if !ok {
		return nil, ErrMatchNotFound
	}
	return v.(*controller), nil
}

func (s *MatchService) register(c *controller) {
	s.registry.Store(c.match.ID, c)
	if c.match.Status == arena.StatusActive {
		for _, pid := range c.match.Seats {
			s.participants.Store(pid, c.match.ID)
		}
	}
}

// release frees both participants to queue again.
func (s *MatchService) release(m *arena.Match) {
	for _, pid := range m.Seats {
		s.participants.CompareAndDelete(pid, m.ID)
	}
}

func (s *MatchService) unregister(c *controller) {
	s.release(c.match)
	s.registry.CompareAndDelete(c.match.ID, c)
}
