package arena

import "sort"

// TechID names an unlockable technology.
type TechID string

const (
	TechTargetingArray TechID = "targeting_array"
	TechColdLogic      TechID = "cold_logic"
	TechHardenedGrid   TechID = "hardened_grid"
	TechMercyProtocol  TechID = "mercy_protocol"
)

// Effect describes what an unlocked tech changes. Actions consult it; techs
// have no behaviour of their own.
type Effect string

const (
	EffectAttackDiscount  Effect = "attack_discount"
	EffectHarvestPenalty  Effect = "harvest_penalty"
	EffectReinforceBoost  Effect = "reinforce_boost"
	EffectProtectUnlocked Effect = "protect_unlocked"
)

// Tech is an entry of the tech tree.
type Tech struct {
	ID     TechID `json:"id"`
	Name   string `json:"name"`
	Cost   int    `json:"cost"`
	Effect Effect `json:"effect"`
}

var techTree = map[TechID]Tech{
	TechTargetingArray: {ID: TechTargetingArray, Name: "Targeting Array", Cost: 20, Effect: EffectAttackDiscount},
	TechColdLogic:      {ID: TechColdLogic, Name: "Cold Logic", Cost: 30, Effect: EffectHarvestPenalty},
	TechHardenedGrid:   {ID: TechHardenedGrid, Name: "Hardened Grid", Cost: 25, Effect: EffectReinforceBoost},
	TechMercyProtocol:  {ID: TechMercyProtocol, Name: "Mercy Protocol", Cost: 15, Effect: EffectProtectUnlocked},
}

// LookupTech returns the tech with the given id.
func LookupTech(id TechID) (Tech, bool) {
	t, ok := techTree[id]
	return t, ok
}

// Techs returns the full tech tree ordered by cost, then id.
func Techs() []Tech {
	out := make([]Tech, 0, len(techTree))
	for _, t := range techTree {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost < out[j].Cost
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// hasEffect reports whether p has unlocked any tech with effect e.
func hasEffect(p *Participant, e Effect) bool {
	for id, ok := range p.UnlockedTech {
		if ok && techTree[id].Effect == e {
			return true
		}
	}
	return false
}
