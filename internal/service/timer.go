package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// TimerListener backs up the in-process turn timers. It listens for Redis
// keyspace notifications on expired match timer keys and also polls every
// live match, so a turn whose timer was lost still gets its forced pass.
type TimerListener struct {
	rdb      *redis.Client
	svc      *MatchService
	interval time.Duration
}

// NewTimerListener creates a TimerListener. rdb may be nil, in which case only
// the poller runs.
func NewTimerListener(rdb *redis.Client, svc *MatchService, interval time.Duration) *TimerListener {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &TimerListener{rdb: rdb, svc: svc, interval: interval}
}

// Start begins listening for expired key events and runs the polling fallback.
// It blocks until ctx is cancelled.
func (t *TimerListener) Start(ctx context.Context) {
	if t.rdb != nil {
		go t.listenKeyspace(ctx)
	}
	t.pollOverdue(ctx)
}

// listenKeyspace subscribes to Redis keyspace notifications for expired keys.
func (t *TimerListener) listenKeyspace(ctx context.Context) {
	channel := t.expiredChannel()
	pubsub := t.rdb.PSubscribe(ctx, channel)
	defer pubsub.Close()

	log.Info().Str("channel", channel).Msg("Timer listener started, listening for expired keys")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			t.handleExpiry(msg.Payload)
		}
	}
}

// expiredChannel is the keyevent channel for the database rdb selects.
func (t *TimerListener) expiredChannel() string {
	return fmt.Sprintf("__keyevent@%d__:expired", t.rdb.Options().DB)
}

// pollOverdue periodically asks every live match to check its deadline.
func (t *TimerListener) pollOverdue(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", t.interval).Msg("Turn deadline poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Turn deadline poller stopped")
			return
		case <-ticker.C:
			t.svc.SweepOverdue()
		}
	}
}

// handleExpiry processes an expired key. Only acts on match timer keys.
func (t *TimerListener) handleExpiry(key string) {
	if !strings.HasPrefix(key, "match:") || !strings.HasSuffix(key, ":timer") {
		return
	}
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return
	}
	matchID := parts[1]

	log.Debug().Str("matchId", matchID).Msg("Timer key expired, checking deadline")
	t.svc.ExpireTurn(matchID)
}
