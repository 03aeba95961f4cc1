// Package matchmaking pairs queued agents of similar rating.
package matchmaking

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/freeeve/hexwar/api/internal/model"
)

var (
	ErrAlreadyQueued = errors.New("already queued")
	ErrNotQueued     = errors.New("not queued")
)

// Entry is one agent waiting for a match.
type Entry = model.QueueEntry

// RangePolicy controls how far apart two ratings may be.
type RangePolicy struct {
	Initial  int
	Step     int
	Interval time.Duration
	Max      int
}

// DefaultRangePolicy starts at 100 and widens by 50 every 10s up to 400.
func DefaultRangePolicy() RangePolicy {
	return RangePolicy{Initial: 100, Step: 50, Interval: 10 * time.Second, Max: 400}
}

// RangeAt returns the search range of an entry enqueued at since.
func (p RangePolicy) RangeAt(since, now time.Time) int {
	r := p.Initial
	if p.Interval > 0 {
		if waited := now.Sub(since); waited > 0 {
			r += p.Step * int(waited/p.Interval)
		}
	}
	if r > p.Max {
		r = p.Max
	}
	return r
}

// Pairing is two entries removed from the pool together.
type Pairing struct {
	A Entry
	B Entry
}

// Pool is the set of waiting agents, kept in wait order.
type Pool struct {
	mu      sync.Mutex
	policy  RangePolicy
	entries []*Entry
}

func NewPool(policy RangePolicy) *Pool {
	return &Pool{policy: policy}
}

// Add queues an entry. EnqueuedAt defaults to now.
func (p *Pool) Add(e Entry, now time.Time) (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.find(e.ParticipantID) >= 0 {
		return Entry{}, ErrAlreadyQueued
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = now
	}
	e.SearchRange = p.policy.RangeAt(e.EnqueuedAt, now)
	p.entries = append(p.entries, &e)
	sort.SliceStable(p.entries, func(i, j int) bool {
		return p.entries[i].EnqueuedAt.Before(p.entries[j].EnqueuedAt)
	})
	return e, nil
}

// Remove drops an entry. It reports whether the entry was present.
func (p *Pool) Remove(participantID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.find(participantID)
	if i < 0 {
		return false
	}
	p.entries = append(p.entries[:i], p.entries[i+1:]...)
	return true
}

// Get returns the entry with its search range as of now.
func (p *Pool) Get(participantID string, now time.Time) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.find(participantID)
	if i < 0 {
		return Entry{}, false
	}
	e := *p.entries[i]
	e.SearchRange = p.policy.RangeAt(e.EnqueuedAt, now)
	return e, true
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Pair widens every search range to now and then greedily pairs entries in
// wait order. Each entry takes the later entry with the smallest rating gap
// that both ranges allow. Paired entries are removed.
func (p *Pool) Pair(now time.Time) []Pairing {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		e.SearchRange = p.policy.RangeAt(e.EnqueuedAt, now)
	}

	matched := make([]bool, len(p.entries))
	var out []Pairing
	for i, a := range p.entries {
		if matched[i] {
			continue
		}
		best, bestDiff := -1, 0
		for j := i + 1; j < len(p.entries); j++ {
			if matched[j] {
				continue
			}
			b := p.entries[j]
			diff := abs(a.Rating - b.Rating)
			if diff > a.SearchRange || diff > b.SearchRange {
				continue
			}
			if best < 0 || diff < bestDiff {
				best, bestDiff = j, diff
			}
		}
		if best < 0 {
			continue
		}
		matched[i], matched[best] = true, true
		out = append(out, Pairing{A: *a, B: *p.entries[best]})
	}

	kept := p.entries[:0]
	for i, e := range p.entries {
		if !matched[i] {
			kept = append(kept, e)
		}
	}
	p.entries = kept
	return out
}

func (p *Pool) find(participantID string) int {
	for i, e := range p.entries {
		if e.ParticipantID == participantID {
			return i
		}
	}
	return -1
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
