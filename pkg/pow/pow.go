// Package pow implements the per-turn proof-of-work challenge that every
// action submission must carry.
package pow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultDifficulty needs about 16^4/2 hashes on average.
const DefaultDifficulty = 4

// MaxDifficulty bounds the difficulty to the length of a hex sha256 digest.
const MaxDifficulty = sha256.Size * 2

var (
	ErrChallengeMissing = errors.New("challenge missing")
	ErrChallengeInvalid = errors.New("challenge invalid")
)

// Challenge is a one-time puzzle bound to a participant, match and turn.
type Challenge struct {
	Prefix        string    `json:"prefix"`
	Difficulty    int       `json:"difficulty"`
	MatchID       string    `json:"match_id"`
	ParticipantID string    `json:"participant_id"`
	Turn          int       `json:"turn"`
	IssuedAt      time.Time `json:"issued_at"`
}

// NewChallenge derives a fresh prefix. The timestamp and random component
// make the prefix unpredictable before the turn starts.
func NewChallenge(participantID, matchID string, turn, difficulty int, now time.Time) Challenge {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%s", matchID, participantID, turn, now.UnixNano(), uuid.NewString())
	return Challenge{
		Prefix:        hex.EncodeToString(h.Sum(nil)),
		Difficulty:    difficulty,
		MatchID:       matchID,
		ParticipantID: participantID,
		Turn:          turn,
		IssuedAt:      now,
	}
}

// Verify reports whether sha256(prefix + "-" + nonce) starts with difficulty
// hex zeros. The nonce must be a non-negative base-10 integer.
func Verify(prefix string, difficulty int, nonce string) bool {
	if !validNonce(nonce) || difficulty < 0 || difficulty > MaxDifficulty {
		return false
	}
	sum := sha256.Sum256([]byte(prefix + "-" + nonce))
	digest := hex.EncodeToString(sum[:])
	return strings.HasPrefix(digest, strings.Repeat("0", difficulty))
}

func validNonce(nonce string) bool {
	if nonce == "" || len(nonce) > 20 {
		return false
	}
	for _, r := range nonce {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Solve searches nonces from zero until one satisfies the challenge or ctx
// is cancelled.
func Solve(ctx context.Context, prefix string, difficulty int) (string, error) {
	for n := uint64(0); ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}
		nonce := strconv.FormatUint(n, 10)
		if Verify(prefix, difficulty, nonce) {
			return nonce, nil
		}
	}
}
