package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freeeve/hexwar/api/internal/logger"
	"github.com/freeeve/hexwar/api/internal/model"
	"github.com/freeeve/hexwar/api/pkg/arena"
	"github.com/freeeve/hexwar/api/pkg/pow"
)

// Submission is one action request from an agent.
type Submission struct {
	Command   arena.Envelope
	Rationale string
	Nonce     string
}

// SubmitResult is returned to the agent whose action was resolved.
type SubmitResult struct {
	MatchID         string       `json:"match_id"`
	Result          arena.Result `json:"result"`
	Status          arena.Status `json:"status"`
	Winner          string       `json:"winner,omitempty"`
	NextParticipant string       `json:"next_participant,omitempty"`
}

// TurnNotice tells an agent whose turn it is. Challenge is only set for the
// active participant.
type TurnNotice struct {
	MatchID           string         `json:"match_id"`
	ParticipantID     string         `json:"participant_id"`
	Turn              int            `json:"turn"`
	YourTurn          bool           `json:"your_turn"`
	ActiveParticipant string         `json:"active_participant,omitempty"`
	Challenge         *pow.Challenge `json:"challenge,omitempty"`
	Deadline          *time.Time     `json:"deadline,omitempty"`
	Status            arena.Status   `json:"status"`
	Winner            string         `json:"winner,omitempty"`
	Reason            arena.Reason   `json:"reason,omitempty"`
	State             *arena.Match   `json:"state"`
}

// MoveNotice describes a resolved action to the actor, the opponent and
// observers.
type MoveNotice struct {
	MatchID       string             `json:"match_id"`
	ParticipantID string             `json:"participant_id"`
	Turn          int                `json:"turn"`
	Command       arena.Envelope     `json:"command"`
	Result        arena.Result       `json:"result"`
	Forced        bool               `json:"forced"`
	Rationale     string             `json:"rationale,omitempty"`
	Scores        []arena.Scoreboard `json:"scores"`
}

// MatchView is the public view of a match.
type MatchView struct {
	*arena.Match
	Deadline *time.Time         `json:"deadline,omitempty"`
	Scores   []arena.Scoreboard `json:"scores"`
}

// snapshot is the cached form of a live match used for recovery.
type snapshot struct {
	Match    *arena.Match   `json:"match"`
	Forced   map[string]int `json:"forced"`
	Deadline time.Time      `json:"deadline"`
}

type reply[T any] struct {
	val T
	err error
}

type startEvent struct{ announce bool }
type timeoutEvent struct{ gen uint64 }
type sweepEvent struct{ now time.Time }
type teardownEvent struct{}

type submitEvent struct {
	pid   string
	sub   Submission
	reply chan reply[*SubmitResult]
}

type turnEvent struct {
	pid   string
	reply chan reply[*TurnNotice]
}

type ackEvent struct {
	pid   string
	reply chan reply[struct{}]
}

type viewEvent struct {
	reply chan reply[*MatchView]
}

// controller owns one match. Every mutation happens on its run goroutine,
// driven either by a submission or by its own deadline timer. The turn
// generation makes a timer that fires after its turn ended a no-op.
type controller struct {
	svc    *MatchService
	match  *arena.Match
	events chan any
	done   chan struct{}

	gen      uint64
	deadline time.Time
	timer    *time.Timer
	reaper   *time.Timer
	forced   map[string]int
	acked    map[string]bool

	closeOnce sync.Once
	log       zerolog.Logger
}

func newController(svc *MatchService, m *arena.Match, forced map[string]int) *controller {
	if forced == nil {
		forced = make(map[string]int)
	}
	return &controller{
		svc:    svc,
		match:  m,
		events: make(chan any, 16),
		done:   make(chan struct{}),
		forced: forced,
		acked:  make(map[string]bool),
		log:    logger.ForMatch(m.ID),
	}
}

func (c *controller) start(ctx context.Context, announce bool) {
	go c.run(ctx)
	c.post(startEvent{announce: announce})
}

func (c *controller) run(ctx context.Context) {
	defer c.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case ev := <-c.events:
			c.dispatch(ctx, ev)
		}
	}
}

// post delivers an event unless the controller has shut down.
func (c *controller) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func request[T any](ctx context.Context, c *controller, mk func(chan reply[T]) any) (T, error) {
	var zero T
	ch := make(chan reply[T], 1)
	select {
	case c.events <- mk(ch):
	case <-c.done:
		return zero, ErrMatchNotFound
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-ch:
		return r.val, r.err
	case <-c.done:
		select {
		case r := <-ch:
			return r.val, r.err
		default:
			return zero, ErrMatchNotFound
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *controller) dispatch(ctx context.Context, ev any) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error().Interface("panic", rec).Msg("Match controller panicked")
			c.failMatch(ctx, fmt.Sprintf("panic: %v", rec))
			failReply(ev)
		}
	}()

	switch e := ev.(type) {
	case startEvent:
		if e.announce {
			c.announce()
		}
		c.beginTurn(ctx)
	case submitEvent:
		res, err := c.handleSubmit(ctx, e.pid, e.sub)
		e.reply <- reply[*SubmitResult]{val: res, err: err}
	case timeoutEvent:
		c.handleTimeout(ctx, e.gen)
	case sweepEvent:
		if c.match.Status == arena.StatusActive && c.pastDeadline(e.now) {
			c.handleTimeout(ctx, c.gen)
		}
	case turnEvent:
		n, err := c.handleTurn(ctx, e.pid)
		e.reply <- reply[*TurnNotice]{val: n, err: err}
	case ackEvent:
		err := c.handleAck(e.pid)
		e.reply <- reply[struct{}]{err: err}
	case viewEvent:
		e.reply <- reply[*MatchView]{val: c.view(true)}
	case teardownEvent:
		c.teardown()
	}
}

func failReply(ev any) {
	err := errors.New("internal match error")
	switch e := ev.(type) {
	case submitEvent:
		select {
		case e.reply <- reply[*SubmitResult]{err: err}:
		default:
		}
	case turnEvent:
		select {
		case e.reply <- reply[*TurnNotice]{err: err}:
		default:
		}
	case ackEvent:
		select {
		case e.reply <- reply[struct{}]{err: err}:
		default:
		}
	case viewEvent:
		select {
		case e.reply <- reply[*MatchView]{err: err}:
		default:
		}
	}
}

func (c *controller) announce() {
	m := c.match
	for _, pid := range m.Seats {
		c.svc.notifier.NotifyParticipant(pid, EventMatchStarted, map[string]any{
			"match_id": m.ID,
			"seats":    m.Seats,
			"opponent": m.Opponent(pid),
		})
	}
	c.log.Info().Str("a", m.Seats[0]).Str("b", m.Seats[1]).Msg("Match started")
}

// beginTurn issues a challenge to the active participant and arms the deadline.
func (c *controller) beginTurn(ctx context.Context) {
	m := c.match
	if m.Status != arena.StatusActive {
		return
	}
	c.stopTimer()
	c.gen++
	gen := c.gen
	active := m.ActiveParticipant
	timeout := c.svc.cfg.TurnTimeout

	challenge, err := c.svc.gate.Issue(ctx, active, m.ID, m.TurnNumber)
	if err != nil {
		c.log.Error().Err(err).Str("participantId", active).Msg("Failed to issue challenge")
	}
	c.deadline = c.svc.now().Add(timeout)
	c.timer = time.AfterFunc(timeout, func() { c.post(timeoutEvent{gen: gen}) })
	c.snapshot()

	notice := c.notice(active)
	if err == nil {
		notice.Challenge = &challenge
	}
	c.svc.notifier.NotifyParticipant(active, EventTurnStart, notice)
	c.log.Debug().Str("participantId", active).Int("turn", m.TurnNumber).
		Time("deadline", c.deadline).Msg("Turn started")
}

func (c *controller) handleSubmit(ctx context.Context, pid string, sub Submission) (*SubmitResult, error) {
	m := c.match
	if !m.IsParticipant(pid) {
		return nil, ErrNotParticipant
	}
	if m.Status != arena.StatusActive {
		return nil, reject(CodeMatchComplete, "")
	}
	if m.ActiveParticipant != pid {
		return nil, reject(CodeNotYourTurn, "")
	}
	if utf8.RuneCountInString(strings.TrimSpace(sub.Rationale)) < c.svc.cfg.MinRationaleLength {
		return nil, reject(CodeRationaleTooShort, fmt.Sprintf("at least %d characters required", c.svc.cfg.MinRationaleLength))
	}
	cmd, err := arena.ParseCommand(sub.Command)
	if err != nil {
		return nil, rejectionFor(err)
	}
	if c.overdue() {
		// The timer has not reached the actor yet; force the pass now.
		c.log.Info().Str("participantId", pid).Msg("Submission arrived after the deadline")
		c.handleTimeout(ctx, c.gen)
		return nil, reject(CodeChallengeMissing, "")
	}
	if _, err := c.svc.gate.Outstanding(ctx, pid, m.ID); err != nil {
		if errors.Is(err, pow.ErrChallengeMissing) {
			return nil, reject(CodeChallengeMissing, "")
		}
		return nil, fmt.Errorf("check challenge: %w", err)
	}
	if err := arena.Validate(m, pid, cmd); err != nil {
		return nil, rejectionFor(err)
	}
	if err := c.svc.gate.Redeem(ctx, pid, m.ID, sub.Nonce); err != nil {
		c.log.Warn().Str("participantId", pid).Err(err).Msg("Challenge rejected")
		return nil, rejectionFor(err)
	}

	c.stopTimer()
	res, err := arena.Resolve(m, pid, cmd)
	if err != nil {
		c.failMatch(ctx, err.Error())
		return nil, fmt.Errorf("resolve: %w", err)
	}
	c.forced[pid] = 0
	c.afterAction(ctx, pid, cmd.Envelope(), res, sub.Rationale, false)

	out := &SubmitResult{MatchID: m.ID, Result: res, Status: m.Status, Winner: m.Winner}
	if m.Status == arena.StatusActive {
		out.NextParticipant = m.ActiveParticipant
	}
	return out, nil
}

// handleTimeout forces a pass for the active participant if gen is still
// the current turn.
func (c *controller) pastDeadline(now time.Time) bool {
	return !c.deadline.IsZero() && !now.Before(c.deadline)
}

func (c *controller) overdue() bool {
	return c.pastDeadline(c.svc.now())
}

func (c *controller) handleTimeout(ctx context.Context, gen uint64) {
	m := c.match
	if gen != c.gen || m.Status != arena.StatusActive {
		return
	}
	pid := m.ActiveParticipant
	c.stopTimer()
	if err := c.svc.gate.Revoke(ctx, pid); err != nil {
		c.log.Warn().Err(err).Str("participantId", pid).Msg("Failed to revoke challenge")
	}

	res, err := arena.ResolveForcedPass(m, pid)
	if err != nil {
		c.failMatch(ctx, err.Error())
		return
	}
	c.forced[pid]++
	c.log.Info().Str("participantId", pid).Int("turn", res.Turn).
		Int("consecutive", c.forced[pid]).Msg("Turn deadline elapsed, pass forced")

	if limit := c.svc.cfg.ForfeitAfter; limit > 0 && c.forced[pid] >= limit && m.Status == arena.StatusActive {
		m.Complete(m.Opponent(pid), arena.ReasonForfeit)
	}
	c.afterAction(ctx, pid, arena.Pass{}.Envelope(), res, "", true)
}

// afterAction persists and announces a resolved action, then either starts
// the next turn or finishes the match.
func (c *controller) afterAction(ctx context.Context, pid string, env arena.Envelope, res arena.Result, rationale string, forced bool) {
	m := c.match
	c.recordAction(pid, env, res, rationale, forced)

	notice := MoveNotice{
		MatchID:       m.ID,
		ParticipantID: pid,
		Turn:          res.Turn,
		Command:       env,
		Result:        res,
		Forced:        forced,
		Rationale:     rationale,
		Scores:        m.Scores(),
	}
	c.svc.notifier.NotifyParticipant(pid, EventMoveResult, notice)
	c.svc.notifier.NotifyParticipant(m.Opponent(pid), EventOpponentMoved, notice)
	c.svc.notifier.BroadcastMatchEvent(m.ID, EventMatchUpdate, notice)

	if m.Status == arena.StatusComplete {
		c.finish(ctx)
		return
	}
	c.beginTurn(ctx)
}

func (c *controller) recordAction(pid string, env arena.Envelope, res arena.Result, rationale string, forced bool) {
	m := c.match
	cmdJSON, err := json.Marshal(env)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to marshal command")
		return
	}
	resJSON, err := json.Marshal(res)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to marshal result")
		return
	}
	gridJSON, err := json.Marshal(m.Sectors)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to marshal grid")
		return
	}
	c.svc.recorder.ActionResolved(model.ActionRecord{
		ID:            uuid.NewString(),
		MatchID:       m.ID,
		Seq:           len(m.ActionLog),
		Turn:          res.Turn,
		ParticipantID: pid,
		Command:       cmdJSON,
		Result:        resJSON,
		GridAfter:     gridJSON,
		Rationale:     rationale,
		Forced:        forced,
		CreatedAt:     c.svc.now(),
	})
}

// handleTurn returns the current turn notice. The active participant always
// receives a freshly issued challenge; the deadline is not extended.
func (c *controller) handleTurn(ctx context.Context, pid string) (*TurnNotice, error) {
	m := c.match
	if !m.IsParticipant(pid) {
		return nil, ErrNotParticipant
	}
	notice := c.notice(pid)
	if m.Status == arena.StatusActive && m.ActiveParticipant == pid {
		challenge, err := c.svc.gate.Issue(ctx, pid, m.ID, m.TurnNumber)
		if err != nil {
			return nil, fmt.Errorf("issue challenge: %w", err)
		}
		notice.Challenge = &challenge
	}
	return notice, nil
}

func (c *controller) handleAck(pid string) error {
	m := c.match
	if !m.IsParticipant(pid) {
		return ErrNotParticipant
	}
	if m.Status != arena.StatusComplete {
		return ErrMatchStillActive
	}
	c.acked[pid] = true
	if c.acked[m.Seats[0]] && c.acked[m.Seats[1]] {
		c.log.Info().Msg("Both participants acknowledged, tearing down")
		c.teardown()
	}
	return nil
}

// finish runs once when the match completes.
func (c *controller) finish(ctx context.Context) {
	m := c.match
	c.stopTimer()
	c.gen++
	c.deadline = time.Time{}
	for _, pid := range m.Seats {
		if err := c.svc.gate.Revoke(ctx, pid); err != nil {
			c.log.Warn().Err(err).Str("participantId", pid).Msg("Failed to revoke challenge")
		}
	}
	c.svc.release(m)
	c.svc.recorder.MatchFinished(m.Clone())

	summary := map[string]any{
		"match_id": m.ID,
		"winner":   m.Winner,
		"reason":   m.Reason,
		"turn":     m.TurnNumber,
		"scores":   m.Scores(),
	}
	for _, pid := range m.Seats {
		c.svc.notifier.NotifyParticipant(pid, EventMatchComplete, summary)
	}
	c.svc.notifier.BroadcastMatchEvent(m.ID, EventMatchComplete, summary)

	c.log.Info().Str("winner", m.Winner).Str("reason", string(m.Reason)).
		Int("turn", m.TurnNumber).Msg("Match complete")

	if retention := c.svc.cfg.Retention; retention > 0 {
		c.reaper = time.AfterFunc(retention, func() { c.post(teardownEvent{}) })
	}
}

// failMatch force-completes the match after an internal error.
func (c *controller) failMatch(ctx context.Context, cause string) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error().Interface("panic", rec).Msg("Failed to force-complete match")
		}
	}()
	if c.match.Status != arena.StatusActive {
		return
	}
	c.log.Error().Str("cause", cause).Msg("Match force-completed after internal error")
	c.match.Complete(arena.NoWinner, arena.ReasonError)
	c.finish(ctx)
}

func (c *controller) teardown() {
	c.closeOnce.Do(func() {
		c.stopTimers()
		c.svc.unregister(c)
		close(c.done)
	})
}

func (c *controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *controller) stopTimers() {
	c.stopTimer()
	if c.reaper != nil {
		c.reaper.Stop()
		c.reaper = nil
	}
}

func (c *controller) snapshot() {
	m := c.match
	data, err := json.Marshal(snapshot{Match: m, Forced: c.forced, Deadline: c.deadline})
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}
	c.svc.recorder.Snapshot(m.ID, data, c.deadline)
}

func (c *controller) notice(pid string) *TurnNotice {
	m := c.match
	n := &TurnNotice{
		MatchID:       m.ID,
		ParticipantID: pid,
		Turn:          m.TurnNumber,
		Status:        m.Status,
		State:         c.view(false).Match,
	}
	if m.Status == arena.StatusActive {
		n.ActiveParticipant = m.ActiveParticipant
		n.YourTurn = m.ActiveParticipant == pid
		d := c.deadline
		n.Deadline = &d
	} else {
		n.Winner = m.Winner
		n.Reason = m.Reason
	}
	return n
}

// view returns a copy safe to hand to other goroutines.
func (c *controller) view(withLog bool) *MatchView {
	cp := c.match.Clone()
	if !withLog {
		cp.ActionLog = nil
	}
	v := &MatchView{Match: cp, Scores: cp.Scores()}
	if cp.Status == arena.StatusActive && !c.deadline.IsZero() {
		d := c.deadline
		v.Deadline = &d
	}
	return v
}
