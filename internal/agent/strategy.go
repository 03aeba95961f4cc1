// Package agent contains scripted participants that play matches through the
// same turn interface remote agents use. They exist for self-play balance
// runs and end-to-end tests.
package agent

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/freeeve/hexwar/api/pkg/arena"
)

// Strategy picks the next command for self and explains it.
type Strategy interface {
	Name() string
	Choose(m *arena.Match, self string) (arena.Command, string)
}

// StrategyFor returns the named strategy. Unknown names get GreedyStrategy.
func StrategyFor(name string, seed int64) Strategy {
	switch name {
	case "pass":
		return PassStrategy{}
	case "random":
		return NewRandomStrategy(seed)
	default:
		return GreedyStrategy{}
	}
}

// Candidates lists every command self could legally play right now. Pass is
// always included. Attacks are listed at every affordable intensity.
func Candidates(m *arena.Match, self string) []arena.Command {
	out := []arena.Command{arena.Pass{}}
	add := func(c arena.Command) {
		if arena.Validate(m, self, c) == nil {
			out = append(out, c)
		}
	}
	for _, id := range m.Grid.IDs() {
		add(arena.Harvest{Target: id})
		add(arena.Reinforce{Target: id})
		add(arena.Protect{Target: id})
		for i := 1; i <= m.Rules.MaxIntensity; i++ {
			add(arena.Attack{Target: id, Intensity: i})
		}
	}
	for _, t := range arena.Techs() {
		add(arena.UnlockTech{Tech: t.ID})
	}
	return out
}

// --- PassStrategy ---

// PassStrategy always passes.
type PassStrategy struct{}

func (PassStrategy) Name() string { return "pass" }

func (PassStrategy) Choose(*arena.Match, string) (arena.Command, string) {
	return arena.Pass{}, "holding position and watching the board"
}

// --- RandomStrategy ---

// RandomStrategy plays a uniformly random legal command.
type RandomStrategy struct {
	rng *rand.Rand
}

// NewRandomStrategy creates a RandomStrategy. Seed 0 picks a time seed.
func NewRandomStrategy(seed int64) *RandomStrategy {
	return &RandomStrategy{rng: newRng(seed)}
}

func (*RandomStrategy) Name() string { return "random" }

func (s *RandomStrategy) Choose(m *arena.Match, self string) (arena.Command, string) {
	cands := Candidates(m, self)
	c := cands[s.rng.Intn(len(cands))]
	return c, fmt.Sprintf("picked %s at random from %d legal options", c.Action(), len(cands))
}

// --- GreedyStrategy ---

// GreedyStrategy keeps its energy out of deficit, then buys the cheapest
// attack tech, then takes the weakest neighbouring sector it can capture
// outright. Otherwise it reinforces its most exposed sector.
type GreedyStrategy struct{}

func (GreedyStrategy) Name() string { return "greedy" }

func (GreedyStrategy) Choose(m *arena.Match, self string) (arena.Command, string) {
	p := m.Participants[self]
	r := m.Rules

	if p.Energy+netIncome(m, self) < 0 {
		if s := mostPopulous(m, self); s != nil {
			return arena.Harvest{Target: s.ID}, fmt.Sprintf("upkeep would push energy below zero, harvesting %s", s.ID)
		}
	}

	if !p.HasTech(arena.TechTargetingArray) {
		if t, _ := arena.LookupTech(arena.TechTargetingArray); p.ResourcePoints >= t.Cost {
			return arena.UnlockTech{Tech: t.ID}, "cheaper attacks compound over the match"
		}
	}

	if c, ok := cheapestCapture(m, self); ok {
		return c, fmt.Sprintf("%s falls at intensity %d", c.Target, c.Intensity)
	}

	if p.Energy >= r.ReinforceCost && p.Energy-r.ReinforceCost+netIncome(m, self) >= 0 {
		if s := mostExposed(m, self); s != nil {
			return arena.Reinforce{Target: s.ID}, fmt.Sprintf("shoring up %s against the border", s.ID)
		}
	}
	return arena.Pass{}, "nothing affordable improves the position"
}

// netIncome is the end-of-turn economy delta if nothing changes.
func netIncome(m *arena.Match, self string) int {
	pop, n := 0, 0
	for _, s := range m.OwnedBy(self) {
		pop += s.Population
		n++
	}
	return n*m.Rules.YieldRate - pop*m.Rules.UpkeepRate
}

func mostPopulous(m *arena.Match, self string) *arena.Sector {
	var best *arena.Sector
	for _, s := range m.OwnedBy(self) {
		if s.Sanctuary || s.Population == 0 {
			continue
		}
		if best == nil || s.Population > best.Population {
			best = s
		}
	}
	return best
}

// mostExposed returns the owned sector with the most foreign neighbours,
// breaking ties on lowest defense.
func mostExposed(m *arena.Match, self string) *arena.Sector {
	var best *arena.Sector
	bestBorder := -1
	for _, s := range m.OwnedBy(self) {
		border := 0
		for _, n := range m.Grid.Adjacent(s.ID) {
			if m.Sector(n).Owner != self {
				border++
			}
		}
		if border > bestBorder || (border == bestBorder && s.Defense < best.Defense) {
			best, bestBorder = s, border
		}
	}
	return best
}

// cheapestCapture finds the attack with the lowest energy cost that captures
// its target and still leaves the attacker out of deficit.
func cheapestCapture(m *arena.Match, self string) (arena.Attack, bool) {
	p := m.Participants[self]
	r := m.Rules
	type option struct {
		attack arena.Attack
		cost   int
	}
	var opts []option
	for _, id := range m.Grid.IDs() {
		t := m.Sector(id)
		if t.Owner == self {
			continue
		}
		adj := m.AdjacentOwnedCount(self, id)
		if adj == 0 {
			continue
		}
		for i := 1; i <= r.MaxIntensity; i++ {
			power := i*r.PowerPerIntensity + adj*r.AdjacencyBonus
			div := r.PopulationDefenseDivisor
			if power*div <= t.Defense*div+t.Population {
				continue
			}
			cost := arena.AttackCost(r, p, i)
			if cost > p.Energy {
				break
			}
			// captured population adds upkeep
			upkeep := t.Population * r.CasualtyPercent / 100 * r.UpkeepRate
			if p.Energy-cost+netIncome(m, self)+r.YieldRate-upkeep >= 0 {
				opts = append(opts, option{arena.Attack{Target: id, Intensity: i}, cost})
			}
			break
		}
	}
	if len(opts) == 0 {
		return arena.Attack{}, false
	}
	sort.SliceStable(opts, func(i, j int) bool { return opts[i].cost < opts[j].cost })
	return opts[0].attack, true
}
