package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freeeve/hexwar/api/internal/model"
)

// Key patterns for live match state.
func stateKey(matchID string) string { return "match:" + matchID + ":state" }
func timerKey(matchID string) string { return "match:" + matchID + ":timer" }

const (
	liveMatchesKey = "matches:live"
	queueKey       = "matchmaking:queue"
)

// SaveSnapshot stores the live match snapshot and marks the match live.
func (c *Client) SaveSnapshot(ctx context.Context, matchID string, snap json.RawMessage) error {
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, stateKey(matchID), []byte(snap), 0)
	pipe.SAdd(ctx, liveMatchesKey, matchID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the snapshot of every live match. Ids whose state key
// has vanished are pruned from the live set.
func (c *Client) ListSnapshots(ctx context.Context) ([]json.RawMessage, error) {
	ids, err := c.rdb.SMembers(ctx, liveMatchesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list live matches: %w", err)
	}
	var out []json.RawMessage
	for _, id := range ids {
		data, err := c.rdb.Get(ctx, stateKey(id)).Bytes()
		if err == redis.Nil {
			c.rdb.SRem(ctx, liveMatchesKey, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get snapshot %s: %w", id, err)
		}
		out = append(out, json.RawMessage(data))
	}
	return out, nil
}

// DeleteSnapshot removes all live state for a match.
func (c *Client) DeleteSnapshot(ctx context.Context, matchID string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, stateKey(matchID), timerKey(matchID))
	pipe.SRem(ctx, liveMatchesKey, matchID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// timerGracePeriod lets the in-process deadline timer fire first; the key
// expiry only matters when that timer was lost.
const timerGracePeriod = time.Second

// SetTimer creates a timer key that expires just after the turn deadline.
// The expiry event is picked up by the timer listener.
func (c *Client) SetTimer(ctx context.Context, matchID string, deadline time.Time) error {
	ttl := time.Until(deadline) + timerGracePeriod
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.rdb.Set(ctx, timerKey(matchID), deadline.Unix(), ttl).Err()
}

// ClearTimer removes the timer for a match.
func (c *Client) ClearTimer(ctx context.Context, matchID string) error {
	return c.rdb.Del(ctx, timerKey(matchID)).Err()
}

// SaveQueueEntry mirrors a matchmaking entry.
func (c *Client) SaveQueueEntry(ctx context.Context, e model.QueueEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}
	return c.rdb.HSet(ctx, queueKey, e.ParticipantID, data).Err()
}

// DeleteQueueEntry removes a mirrored matchmaking entry.
func (c *Client) DeleteQueueEntry(ctx context.Context, participantID string) error {
	return c.rdb.HDel(ctx, queueKey, participantID).Err()
}

// LoadQueue returns every mirrored matchmaking entry.
func (c *Client) LoadQueue(ctx context.Context) ([]model.QueueEntry, error) {
	all, err := c.rdb.HGetAll(ctx, queueKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	out := make([]model.QueueEntry, 0, len(all))
	for pid, raw := range all {
		var e model.QueueEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			c.rdb.HDel(ctx, queueKey, pid)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
