package arena

// EconomyReport records one end-of-turn economy pass.
type EconomyReport struct {
	Population   int  `json:"population"`
	Sectors      int  `json:"sectors"`
	Upkeep       int  `json:"upkeep"`
	Yield        int  `json:"yield"`
	EnergyDelta  int  `json:"energy_delta"`
	PointsDelta  int  `json:"points_delta"`
	InDeficit    bool `json:"in_deficit"`
	DeficitTurns int  `json:"deficit_turns"`
}

// ApplyEconomy charges upkeep and pays yield to pid, who just moved.
// Energy below zero afterwards extends the deficit streak; otherwise it resets.
func ApplyEconomy(m *Match, pid string) EconomyReport {
	p := m.Participants[pid]
	var rep EconomyReport
	for _, s := range m.OwnedBy(pid) {
		rep.Sectors++
		rep.Population += s.Population
	}
	rep.Upkeep = rep.Population * m.Rules.UpkeepRate
	rep.Yield = rep.Sectors * m.Rules.YieldRate
	rep.EnergyDelta = rep.Yield - rep.Upkeep
	rep.PointsDelta = rep.Sectors

	p.Energy += rep.EnergyDelta
	p.ResourcePoints += rep.PointsDelta
	if p.Energy < 0 {
		p.ConsecutiveDeficitTurns++
		rep.InDeficit = true
	} else {
		p.ConsecutiveDeficitTurns = 0
	}
	rep.DeficitTurns = p.ConsecutiveDeficitTurns
	return rep
}
