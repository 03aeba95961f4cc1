package arena

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrid_AdjacentCorners(t *testing.T) {
	g := NewGrid(4, 6)

	assert.Equal(t, []SectorID{{0, 1}, {1, 0}, {1, 1}}, g.Adjacent(sid(0, 0)))
	assert.Equal(t, []SectorID{{2, 4}, {2, 5}, {3, 4}}, g.Adjacent(sid(3, 5)))
}

func TestGrid_AdjacentInterior(t *testing.T) {
	g := NewGrid(4, 6)

	even := g.Adjacent(sid(2, 2))
	assert.ElementsMatch(t, []SectorID{{1, 2}, {1, 3}, {2, 1}, {2, 3}, {3, 2}, {3, 3}}, even)

	odd := g.Adjacent(sid(1, 2))
	assert.ElementsMatch(t, []SectorID{{0, 1}, {0, 2}, {1, 1}, {1, 3}, {2, 1}, {2, 2}}, odd)
}

func TestGrid_AdjacencySymmetric(t *testing.T) {
	g := NewGrid(4, 6)
	for _, a := range g.IDs() {
		for _, b := range g.Adjacent(a) {
			assert.True(t, g.IsAdjacent(b, a), "%s -> %s not symmetric", a, b)
		}
	}
}

func TestGrid_HomeSectorsAreOpposite(t *testing.T) {
	a, b := NewGrid(4, 6).HomeSectors()
	assert.Equal(t, sid(0, 0), a)
	assert.Equal(t, sid(3, 5), b)
}

func TestParseSectorID(t *testing.T) {
	id, err := ParseSectorID(" 2, 3 ")
	require.NoError(t, err)
	assert.Equal(t, sid(2, 3), id)

	for _, bad := range []string{"", "2", "a,b", "1,2,3"} {
		_, err := ParseSectorID(bad)
		assert.Error(t, err, bad)
	}
}

func TestMatchJSON_SectorKeys(t *testing.T) {
	m := newTestMatch(t)
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back Match
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, alice, back.Sectors[sid(0, 0)].Owner)
	assert.Equal(t, m.Seats, back.Seats)
}
