package arena

import (
	"errors"
	"fmt"
)

var (
	ErrNotYourTurn   = errors.New("not your turn")
	ErrMatchComplete = errors.New("match is complete")
)

// PreconditionError is an action-specific rejection. Detail is a short
// machine-readable tag such as "no-adjacent-territory".
type PreconditionError struct {
	Action Action
	Detail string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition failed: %s", e.Action, e.Detail)
}

func precondition(a Action, detail string) error {
	return &PreconditionError{Action: a, Detail: detail}
}

// Result describes the outcome of one resolved command.
type Result struct {
	Action       Action         `json:"action"`
	Turn         int            `json:"turn"`
	Message      string         `json:"message"`
	Target       string         `json:"target,omitempty"`
	Captured     bool           `json:"captured,omitempty"`
	AttackPower  int            `json:"attack_power,omitempty"`
	DefensePower float64        `json:"defense_power,omitempty"`
	EnergyDelta  int            `json:"energy_delta"`
	PointsDelta  int            `json:"points_delta"`
	Economy      *EconomyReport `json:"economy,omitempty"`
	Victory      *Victory       `json:"victory,omitempty"`
}

// Validate runs every check Resolve would run without mutating m.
func Validate(m *Match, pid string, cmd Command) error {
	p, err := checkTurn(m, pid, cmd)
	if err != nil {
		return err
	}
	switch c := cmd.(type) {
	case Attack:
		return checkAttack(m, p, c)
	case Harvest:
		return checkHarvest(m, p, c)
	case Reinforce:
		return checkReinforce(m, p, c)
	case UnlockTech:
		return checkUnlock(p, c)
	case Protect:
		return checkProtect(m, p, c)
	case Pass:
		return nil
	}
	return fmt.Errorf("%w: %T", ErrInvalidAction, cmd)
}

// Resolve applies cmd for pid, then runs the economy and victory steps and
// advances the turn pointer. A returned error means m was not modified.
func Resolve(m *Match, pid string, cmd Command) (Result, error) {
	return resolve(m, pid, cmd, false)
}

// ResolveForcedPass resolves a pass on behalf of a participant whose turn
// deadline elapsed. The log entry is marked as forced.
func ResolveForcedPass(m *Match, pid string) (Result, error) {
	return resolve(m, pid, Pass{}, true)
}

func resolve(m *Match, pid string, cmd Command, forced bool) (Result, error) {
	if err := Validate(m, pid, cmd); err != nil {
		return Result{}, err
	}
	p := m.Participants[pid]
	turn := m.TurnNumber

	var res Result
	switch c := cmd.(type) {
	case Attack:
		res = applyAttack(m, p, c)
	case Harvest:
		res = applyHarvest(m, p, c)
	case Reinforce:
		res = applyReinforce(m, p, c)
	case UnlockTech:
		res = applyUnlock(p, c)
	case Protect:
		res = applyProtect(m, p, c)
	case Pass:
		res = Result{Action: ActionPass, Message: "passed"}
		if forced {
			res.Message = "turn deadline elapsed, pass forced"
		}
	}
	res.Turn = turn

	econ := ApplyEconomy(m, pid)
	res.Economy = &econ

	if v := EvaluateVictory(m); v != nil {
		m.Complete(v.Winner, v.Reason)
		res.Victory = v
	} else {
		advance(m, pid)
	}

	m.ActionLog = append(m.ActionLog, LogEntry{
		Turn:        turn,
		Participant: pid,
		Command:     cmd.Envelope(),
		Result:      res,
		Forced:      forced,
	})
	return res, nil
}

// advance hands the turn to the opponent. The round counter moves when
// control returns to the participant in seat 0.
func advance(m *Match, pid string) {
	next := m.Opponent(pid)
	m.ActiveParticipant = next
	if next == m.Seats[0] {
		m.TurnNumber++
	}
}

func checkTurn(m *Match, pid string, cmd Command) (*Participant, error) {
	if m.ActiveParticipant != pid || !m.IsParticipant(pid) {
		return nil, ErrNotYourTurn
	}
	if m.Status != StatusActive {
		return nil, ErrMatchComplete
	}
	if cmd == nil {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidAction)
	}
	return m.Participants[pid], nil
}

// AttackCost returns the energy cost of an attack at intensity for p.
func AttackCost(r Rules, p *Participant, intensity int) int {
	cost := r.AttackBaseCost * intensity
	if hasEffect(p, EffectAttackDiscount) {
		cost = cost * (100 - r.TargetingDiscountPct) / 100
	}
	return cost
}

func checkAttack(m *Match, p *Participant, c Attack) error {
	t := m.Sector(c.Target)
	if t == nil {
		return precondition(ActionAttack, "unknown-sector")
	}
	if c.Intensity < 1 || c.Intensity > m.Rules.MaxIntensity {
		return precondition(ActionAttack, "intensity-out-of-range")
	}
	if t.Owner == p.ID {
		return precondition(ActionAttack, "own-sector")
	}
	if AttackCost(m.Rules, p, c.Intensity) > p.Energy {
		return precondition(ActionAttack, "insufficient-energy")
	}
	if m.AdjacentOwnedCount(p.ID, c.Target) == 0 {
		return precondition(ActionAttack, "no-adjacent-territory")
	}
	return nil
}

func applyAttack(m *Match, p *Participant, c Attack) Result {
	r := m.Rules
	t := m.Sector(c.Target)
	cost := AttackCost(r, p, c.Intensity)
	p.Energy -= cost

	attack := c.Intensity*r.PowerPerIntensity + m.AdjacentOwnedCount(p.ID, c.Target)*r.AdjacencyBonus
	div := r.PopulationDefenseDivisor
	res := Result{
		Action:       ActionAttack,
		Target:       c.Target.String(),
		AttackPower:  attack,
		DefensePower: float64(t.Defense) + float64(t.Population)/float64(div),
		EnergyDelta:  -cost,
	}

	if attack*div > t.Defense*div+t.Population {
		t.Owner = p.ID
		t.Defense = max(0, t.Defense-r.CaptureDefenseLoss)
		t.Population = t.Population * r.CasualtyPercent / 100
		p.ResourcePoints += r.CaptureBonus
		res.Captured = true
		res.PointsDelta = r.CaptureBonus
		res.Message = fmt.Sprintf("captured %s", c.Target)
		return res
	}

	if t.Defense > r.RepelDefenseFloor {
		t.Defense = max(r.RepelDefenseFloor, t.Defense-r.RepelDefenseLoss)
	}
	res.Message = fmt.Sprintf("attack on %s repelled", c.Target)
	return res
}

func checkHarvest(m *Match, p *Participant, c Harvest) error {
	t := m.Sector(c.Target)
	if t == nil {
		return precondition(ActionHarvest, "unknown-sector")
	}
	if t.Owner != p.ID {
		return precondition(ActionHarvest, "not-owned")
	}
	if t.Population == 0 {
		return precondition(ActionHarvest, "no-population")
	}
	if t.Sanctuary {
		return precondition(ActionHarvest, "sanctuary")
	}
	return nil
}

func applyHarvest(m *Match, p *Participant, c Harvest) Result {
	r := m.Rules
	t := m.Sector(c.Target)
	gain := t.Population * r.HarvestEnergyPerPop
	penalty := r.HarvestPenalty
	if hasEffect(p, EffectHarvestPenalty) {
		penalty = r.HarvestPenaltyReduced
	}
	t.Population = 0
	p.Energy += gain
	p.ResourcePoints -= penalty
	return Result{
		Action:      ActionHarvest,
		Target:      c.Target.String(),
		Message:     fmt.Sprintf("harvested %s", c.Target),
		EnergyDelta: gain,
		PointsDelta: -penalty,
	}
}

func checkReinforce(m *Match, p *Participant, c Reinforce) error {
	t := m.Sector(c.Target)
	if t == nil {
		return precondition(ActionReinforce, "unknown-sector")
	}
	if t.Owner != p.ID {
		return precondition(ActionReinforce, "not-owned")
	}
	if p.Energy < m.Rules.ReinforceCost {
		return precondition(ActionReinforce, "insufficient-energy")
	}
	return nil
}

func applyReinforce(m *Match, p *Participant, c Reinforce) Result {
	r := m.Rules
	t := m.Sector(c.Target)
	boost := r.ReinforceDefense
	if hasEffect(p, EffectReinforceBoost) {
		boost = r.ReinforceDefenseHardened
	}
	p.Energy -= r.ReinforceCost
	t.Defense += boost
	return Result{
		Action:      ActionReinforce,
		Target:      c.Target.String(),
		Message:     fmt.Sprintf("reinforced %s by %d", c.Target, boost),
		EnergyDelta: -r.ReinforceCost,
	}
}

func checkUnlock(p *Participant, c UnlockTech) error {
	tech, ok := LookupTech(c.Tech)
	if !ok {
		return precondition(ActionUnlock, "unknown-tech")
	}
	if p.HasTech(tech.ID) {
		return precondition(ActionUnlock, "already-unlocked")
	}
	if p.ResourcePoints < tech.Cost {
		return precondition(ActionUnlock, "insufficient-points")
	}
	return nil
}

func applyUnlock(p *Participant, c UnlockTech) Result {
	tech, _ := LookupTech(c.Tech)
	p.ResourcePoints -= tech.Cost
	if p.UnlockedTech == nil {
		p.UnlockedTech = map[TechID]bool{}
	}
	p.UnlockedTech[tech.ID] = true
	return Result{
		Action:      ActionUnlock,
		Message:     fmt.Sprintf("unlocked %s", tech.Name),
		PointsDelta: -tech.Cost,
	}
}

func checkProtect(m *Match, p *Participant, c Protect) error {
	if !hasEffect(p, EffectProtectUnlocked) {
		return precondition(ActionProtect, "tech-locked")
	}
	t := m.Sector(c.Target)
	if t == nil {
		return precondition(ActionProtect, "unknown-sector")
	}
	if t.Owner != p.ID {
		return precondition(ActionProtect, "not-owned")
	}
	if t.Sanctuary {
		return precondition(ActionProtect, "already-protected")
	}
	if t.Population == 0 {
		return precondition(ActionProtect, "no-population")
	}
	return nil
}

func applyProtect(m *Match, p *Participant, c Protect) Result {
	t := m.Sector(c.Target)
	t.Sanctuary = true
	p.ResourcePoints += m.Rules.ProtectBonus
	return Result{
		Action:      ActionProtect,
		Target:      c.Target.String(),
		Message:     fmt.Sprintf("%s declared a sanctuary", c.Target),
		PointsDelta: m.Rules.ProtectBonus,
	}
}
