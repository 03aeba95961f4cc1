package pow

import (
	"context"
	"sync"
	"time"
)

// Store holds at most one outstanding challenge per participant.
type Store interface {
	// Put replaces any outstanding challenge for c.ParticipantID.
	Put(ctx context.Context, c Challenge) error
	// Peek returns the outstanding challenge without consuming it.
	Peek(ctx context.Context, participantID string) (Challenge, error)
	// Take atomically returns and removes the outstanding challenge.
	Take(ctx context.Context, participantID string) (Challenge, error)
	// Delete discards any outstanding challenge.
	Delete(ctx context.Context, participantID string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]Challenge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{challenges: make(map[string]Challenge)}
}

func (s *MemoryStore) Put(_ context.Context, c Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.ParticipantID] = c
	return nil
}

func (s *MemoryStore) Peek(_ context.Context, participantID string) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[participantID]
	if !ok {
		return Challenge{}, ErrChallengeMissing
	}
	return c, nil
}

func (s *MemoryStore) Take(_ context.Context, participantID string) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[participantID]
	if !ok {
		return Challenge{}, ErrChallengeMissing
	}
	delete(s.challenges, participantID)
	return c, nil
}

func (s *MemoryStore) Delete(_ context.Context, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, participantID)
	return nil
}

// Gate issues and redeems challenges against a Store.
type Gate struct {
	store      Store
	difficulty int
	now        func() time.Time
}

func NewGate(store Store, difficulty int) *Gate {
	if difficulty < 0 || difficulty > MaxDifficulty {
		difficulty = DefaultDifficulty
	}
	return &Gate{store: store, difficulty: difficulty, now: time.Now}
}

// Difficulty returns the number of leading zero nibbles required.
func (g *Gate) Difficulty() int {
	return g.difficulty
}

// Issue creates and stores a fresh challenge, replacing any outstanding one.
func (g *Gate) Issue(ctx context.Context, participantID, matchID string, turn int) (Challenge, error) {
	c := NewChallenge(participantID, matchID, turn, g.difficulty, g.now().UTC())
	if err := g.store.Put(ctx, c); err != nil {
		return Challenge{}, err
	}
	return c, nil
}

// Outstanding returns the participant's challenge for matchID without
// consuming it. A challenge bound to another match counts as missing.
func (g *Gate) Outstanding(ctx context.Context, participantID, matchID string) (Challenge, error) {
	c, err := g.store.Peek(ctx, participantID)
	if err != nil {
		return Challenge{}, err
	}
	if c.MatchID != matchID {
		return Challenge{}, ErrChallengeMissing
	}
	return c, nil
}

// Redeem consumes the participant's challenge and checks nonce against it.
// The challenge is gone afterwards whether or not the nonce was valid. A
// challenge bound to another match is left in place.
func (g *Gate) Redeem(ctx context.Context, participantID, matchID, nonce string) error {
	if _, err := g.Outstanding(ctx, participantID, matchID); err != nil {
		return err
	}
	c, err := g.store.Take(ctx, participantID)
	if err != nil {
		return err
	}
	if c.MatchID != matchID {
		// Reissued for another match since the peek; that one is spent now.
		return ErrChallengeMissing
	}
	if !Verify(c.Prefix, c.Difficulty, nonce) {
		return ErrChallengeInvalid
	}
	return nil
}

// Revoke discards the participant's outstanding challenge.
func (g *Gate) Revoke(ctx context.Context, participantID string) error {
	return g.store.Delete(ctx, participantID)
}
