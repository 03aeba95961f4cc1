package arena

// Rules holds every numeric constant used by the resolver, economy and
// victory checks. The relative ordering of UpkeepRate and YieldRate is what
// makes unharvested growth unsustainable: yield per sector is fixed while
// upkeep scales with population, crossing over at
// population = YieldRate/UpkeepRate × sectorCount.
type Rules struct {
	Rows int
	Cols int

	MinInitialPopulation int
	MaxInitialPopulation int
	InitialDefense       int
	HomePopulation       int
	StartingEnergy       int

	AttackBaseCost           int
	MaxIntensity             int
	PowerPerIntensity        int
	AdjacencyBonus           int
	PopulationDefenseDivisor int // defense power is defense + population/divisor
	CaptureDefenseLoss       int
	RepelDefenseLoss         int
	RepelDefenseFloor        int
	CasualtyPercent          int // population kept after capture, in percent
	CaptureBonus             int
	TargetingDiscountPct     int
	HarvestEnergyPerPop      int
	HarvestPenalty           int
	HarvestPenaltyReduced    int
	ReinforceCost            int
	ReinforceDefense         int
	ReinforceDefenseHardened int
	ProtectBonus             int

	UpkeepRate int
	YieldRate  int

	VictoryPoints      int
	DeficitTurnsToLose int
	DominationPercent  int
}

// DefaultRules returns the standard rule set for a 4×6 match.
func DefaultRules() Rules {
	return Rules{
		Rows: 4,
		Cols: 6,

		MinInitialPopulation: 5,
		MaxInitialPopulation: 15,
		InitialDefense:       10,
		HomePopulation:       10,
		StartingEnergy:       100,

		AttackBaseCost:           25,
		MaxIntensity:             10,
		PowerPerIntensity:        15,
		AdjacencyBonus:           3,
		PopulationDefenseDivisor: 2,
		CaptureDefenseLoss:       5,
		RepelDefenseLoss:         2,
		RepelDefenseFloor:        5,
		CasualtyPercent:          70,
		CaptureBonus:             10,
		TargetingDiscountPct:     20,
		HarvestEnergyPerPop:      2,
		HarvestPenalty:           5,
		HarvestPenaltyReduced:    2,
		ReinforceCost:            15,
		ReinforceDefense:         10,
		ReinforceDefenseHardened: 15,
		ProtectBonus:             3,

		UpkeepRate: 2,
		YieldRate:  5,

		VictoryPoints:      200,
		DeficitTurnsToLose: 3,
		DominationPercent:  75,
	}
}
