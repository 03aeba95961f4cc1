package arena

import (
	"math/rand"
	"sort"
	"time"
)

// Status is the lifecycle state of a match.
type Status string

const (
	StatusActive   Status = "active"
	StatusComplete Status = "complete"
)

// Reason tags how a match ended.
type Reason string

const (
	ReasonPoints      Reason = "points"
	ReasonElimination Reason = "elimination"
	ReasonDomination  Reason = "domination"
	ReasonForfeit     Reason = "forfeit"
	ReasonError       Reason = "error"
)

// NoWinner is recorded as the winner of a match force-completed without one.
const NoWinner = "none"

// Sector is one grid cell.
type Sector struct {
	ID         SectorID `json:"id"`
	Owner      string   `json:"owner,omitempty"`
	Population int      `json:"population"`
	Defense    int      `json:"defense"`
	Sanctuary  bool     `json:"sanctuary,omitempty"`
}

// Participant is one side of a match.
type Participant struct {
	ID                      string          `json:"id"`
	Energy                  int             `json:"energy"`
	ResourcePoints          int             `json:"resource_points"`
	ConsecutiveDeficitTurns int             `json:"consecutive_deficit_turns"`
	UnlockedTech            map[TechID]bool `json:"unlocked_tech,omitempty"`
}

// HasTech reports whether the participant unlocked id.
func (p *Participant) HasTech(id TechID) bool {
	return p.UnlockedTech[id]
}

// LogEntry is one resolved action in a match's history.
type LogEntry struct {
	Turn        int      `json:"turn"`
	Participant string   `json:"participant"`
	Command     Envelope `json:"command"`
	Result      Result   `json:"result"`
	Forced      bool     `json:"forced,omitempty"`
}

// Match is the complete mutable record of one game between two participants.
type Match struct {
	ID                string                  `json:"id"`
	Rules             Rules                   `json:"rules"`
	Grid              Grid                    `json:"grid"`
	Seats             [2]string               `json:"seats"`
	Participants      map[string]*Participant `json:"participants"`
	Sectors           map[SectorID]*Sector    `json:"sectors"`
	TurnNumber        int                     `json:"turn_number"`
	ActiveParticipant string                  `json:"active_participant"`
	Status            Status                  `json:"status"`
	Winner            string                  `json:"winner,omitempty"`
	Reason            Reason                  `json:"reason,omitempty"`
	ActionLog         []LogEntry              `json:"action_log"`
}

// NewMatch builds the starting position. The participant in seat 0 (a) moves
// first and opens every round. rng only affects initial populations; nil
// uses a time-seeded source.
func NewMatch(id, a, b string, rules Rules, rng *rand.Rand) *Match {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	g := NewGrid(rules.Rows, rules.Cols)
	m := &Match{
		ID:    id,
		Rules: rules,
		Grid:  g,
		Seats: [2]string{a, b},
		Participants: map[string]*Participant{
			a: {ID: a, Energy: rules.StartingEnergy, UnlockedTech: map[TechID]bool{}},
			b: {ID: b, Energy: rules.StartingEnergy, UnlockedTech: map[TechID]bool{}},
		},
		Sectors:           populate(g, rules, rng),
		TurnNumber:        1,
		ActiveParticipant: a,
		Status:            StatusActive,
	}
	homeA, homeB := g.HomeSectors()
	m.Sectors[homeA].Owner = a
	m.Sectors[homeA].Population = rules.HomePopulation
	m.Sectors[homeB].Owner = b
	m.Sectors[homeB].Population = rules.HomePopulation
	return m
}

// Opponent returns the other participant's id, or "" if pid is not seated.
func (m *Match) Opponent(pid string) string {
	switch pid {
	case m.Seats[0]:
		return m.Seats[1]
	case m.Seats[1]:
		return m.Seats[0]
	}
	return ""
}

// IsParticipant reports whether pid is seated in the match.
func (m *Match) IsParticipant(pid string) bool {
	return pid != "" && (pid == m.Seats[0] || pid == m.Seats[1])
}

// Sector returns the sector at id, or nil when out of bounds.
func (m *Match) Sector(id SectorID) *Sector {
	return m.Sectors[id]
}

// OwnedBy returns the sectors owned by pid in row-major order.
func (m *Match) OwnedBy(pid string) []*Sector {
	var out []*Sector
	for _, id := range m.Grid.IDs() {
		if s := m.Sectors[id]; s.Owner == pid {
			out = append(out, s)
		}
	}
	return out
}

// AdjacentOwnedCount counts sectors owned by pid that neighbor target.
func (m *Match) AdjacentOwnedCount(pid string, target SectorID) int {
	n := 0
	for _, id := range m.Grid.Adjacent(target) {
		if m.Sectors[id].Owner == pid {
			n++
		}
	}
	return n
}

// Complete ends the match. It is a no-op on an already complete match.
// ActiveParticipant is left pointing at the last mover.
func (m *Match) Complete(winner string, reason Reason) {
	if m.Status == StatusComplete {
		return
	}
	if winner == "" {
		winner = NoWinner
	}
	m.Status = StatusComplete
	m.Winner = winner
	m.Reason = reason
}

// Loser returns the participant that did not win, or "" when there is no winner.
func (m *Match) Loser() string {
	if m.Status != StatusComplete || m.Winner == NoWinner {
		return ""
	}
	return m.Opponent(m.Winner)
}

// Clone returns a deep copy of the match.
func (m *Match) Clone() *Match {
	c := *m
	c.Participants = make(map[string]*Participant, len(m.Participants))
	for id, p := range m.Participants {
		cp := *p
		cp.UnlockedTech = make(map[TechID]bool, len(p.UnlockedTech))
		for t, v := range p.UnlockedTech {
			cp.UnlockedTech[t] = v
		}
		c.Participants[id] = &cp
	}
	c.Sectors = make(map[SectorID]*Sector, len(m.Sectors))
	for id, s := range m.Sectors {
		cs := *s
		c.Sectors[id] = &cs
	}
	c.ActionLog = make([]LogEntry, len(m.ActionLog))
	copy(c.ActionLog, m.ActionLog)
	return &c
}

// Scoreboard summarizes each participant for notices and logging.
type Scoreboard struct {
	Participant    string   `json:"participant"`
	Energy         int      `json:"energy"`
	ResourcePoints int      `json:"resource_points"`
	Sectors        int      `json:"sectors"`
	Population     int      `json:"population"`
	DeficitTurns   int      `json:"deficit_turns"`
	Tech           []string `json:"tech,omitempty"`
}

// Scores returns one Scoreboard per seat, in seat order.
func (m *Match) Scores() []Scoreboard {
	out := make([]Scoreboard, 0, 2)
	for _, pid := range m.Seats {
		p := m.Participants[pid]
		sb := Scoreboard{
			Participant:    pid,
			Energy:         p.Energy,
			ResourcePoints: p.ResourcePoints,
			DeficitTurns:   p.ConsecutiveDeficitTurns,
		}
		for _, s := range m.OwnedBy(pid) {
			sb.Sectors++
			sb.Population += s.Population
		}
		for t, ok := range p.UnlockedTech {
			if ok {
				sb.Tech = append(sb.Tech, string(t))
			}
		}
		sort.Strings(sb.Tech)
		out = append(out, sb)
	}
	return out
}
