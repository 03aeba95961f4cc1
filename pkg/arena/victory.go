package arena

// Victory names the winner of a finished match and why it ended.
type Victory struct {
	Winner string `json:"winner"`
	Reason Reason `json:"reason"`
}

// EvaluateVictory checks terminal conditions. Participants are examined in
// seat order and, for each, points, then opponent elimination, then
// domination. The first satisfied condition wins. It does not modify m.
func EvaluateVictory(m *Match) *Victory {
	if m.Status != StatusActive {
		return nil
	}
	r := m.Rules
	total := m.Grid.Size()
	for _, pid := range m.Seats {
		p := m.Participants[pid]
		if p.ResourcePoints >= r.VictoryPoints {
			return &Victory{Winner: pid, Reason: ReasonPoints}
		}
		opp := m.Participants[m.Opponent(pid)]
		if opp.ConsecutiveDeficitTurns >= r.DeficitTurnsToLose {
			return &Victory{Winner: pid, Reason: ReasonElimination}
		}
		if total > 0 && len(m.OwnedBy(pid))*100 >= r.DominationPercent*total {
			return &Victory{Winner: pid, Reason: ReasonDomination}
		}
	}
	return nil
}
