package agent

import (
	"math/rand"
	"time"
)

// newRng returns a source seeded with seed, or with the clock when seed is 0.
// Strategies each own their source so concurrent matches never share one.
func newRng(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
