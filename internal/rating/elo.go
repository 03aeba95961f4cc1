// Package rating implements the skill rating update applied when a match ends.
package rating

import "math"

const (
	DefaultRating      = 1200
	KFactor            = 32
	ProvisionalKFactor = 40
	ProvisionalMatches = 10
)

// Player is the rating input for one side of a finished match.
type Player struct {
	Rating  int
	Matches int
}

// Policy revises ratings after a decisive match.
type Policy interface {
	Update(winner, loser Player) (newWinner, newLoser int)
}

// Elo is the standard Elo update with a larger K while a player is provisional.
type Elo struct{}

// Expected returns the expected score of a against b.
func Expected(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// KFor returns the K-factor for p.
func KFor(p Player) int {
	if p.Matches < ProvisionalMatches {
		return ProvisionalKFactor
	}
	return KFactor
}

// Update returns the revised ratings. The winner never loses points and the
// loser never gains any.
func (Elo) Update(winner, loser Player) (int, int) {
	ew := Expected(winner.Rating, loser.Rating)
	gain := int(math.Round(float64(KFor(winner)) * (1 - ew)))
	loss := int(math.Round(float64(KFor(loser)) * (1 - ew)))
	if gain < 0 {
		gain = 0
	}
	if loss < 0 {
		loss = 0
	}
	return winner.Rating + gain, loser.Rating - loss
}
