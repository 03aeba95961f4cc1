package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freeeve/hexwar/api/pkg/pow"
)

func challengeKey(participantID string) string { return "pow:challenge:" + participantID }

// ChallengeStore keeps outstanding proof-of-work challenges in Redis. Take
// uses GETDEL so a challenge can be redeemed at most once even across
// server instances.
type ChallengeStore struct {
	c   *Client
	ttl time.Duration
}

// NewChallengeStore creates a ChallengeStore. Challenges left unredeemed
// expire after ttl.
func NewChallengeStore(c *Client, ttl time.Duration) *ChallengeStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ChallengeStore{c: c, ttl: ttl}
}

func (s *ChallengeStore) Put(ctx context.Context, ch pow.Challenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	return s.c.rdb.Set(ctx, challengeKey(ch.ParticipantID), data, s.ttl).Err()
}

func (s *ChallengeStore) Peek(ctx context.Context, participantID string) (pow.Challenge, error) {
	data, err := s.c.rdb.Get(ctx, challengeKey(participantID)).Bytes()
	return decodeChallenge(data, err)
}

func (s *ChallengeStore) Take(ctx context.Context, participantID string) (pow.Challenge, error) {
	data, err := s.c.rdb.GetDel(ctx, challengeKey(participantID)).Bytes()
	return decodeChallenge(data, err)
}

func (s *ChallengeStore) Delete(ctx context.Context, participantID string) error {
	return s.c.rdb.Del(ctx, challengeKey(participantID)).Err()
}

func decodeChallenge(data []byte, err error) (pow.Challenge, error) {
	if err == redis.Nil {
		return pow.Challenge{}, pow.ErrChallengeMissing
	}
	if err != nil {
		return pow.Challenge{}, fmt.Errorf("get challenge: %w", err)
	}
	var ch pow.Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return pow.Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	return ch, nil
}
