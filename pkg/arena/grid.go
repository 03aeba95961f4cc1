package arena

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// SectorID identifies a grid cell. Its string and JSON form is "row,col".
type SectorID struct {
	Row int
	Col int
}

func (id SectorID) String() string {
	return fmt.Sprintf("%d,%d", id.Row, id.Col)
}

// MarshalText encodes the id as "row,col" so it can key JSON objects.
func (id SectorID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses "row,col".
func (id *SectorID) UnmarshalText(b []byte) error {
	parsed, err := ParseSectorID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseSectorID parses a "row,col" sector reference.
func ParseSectorID(s string) (SectorID, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return SectorID{}, fmt.Errorf("malformed sector id %q", s)
	}
	row, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return SectorID{}, fmt.Errorf("malformed sector row %q", s)
	}
	col, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return SectorID{}, fmt.Errorf("malformed sector col %q", s)
	}
	return SectorID{Row: row, Col: col}, nil
}

// Offset-coordinate neighbor deltas. Odd rows are shifted left relative to even rows.
var (
	evenRowOffsets = [6][2]int{{-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, 0}, {1, 1}}
	oddRowOffsets  = [6][2]int{{-1, -1}, {-1, 0}, {0, -1}, {0, 1}, {1, -1}, {1, 0}}
)

// Grid is the static hex topology of a match.
type Grid struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// NewGrid returns a rows×cols grid.
func NewGrid(rows, cols int) Grid {
	return Grid{Rows: rows, Cols: cols}
}

// Size returns the number of cells.
func (g Grid) Size() int {
	return g.Rows * g.Cols
}

// InBounds reports whether id addresses a cell of the grid.
func (g Grid) InBounds(id SectorID) bool {
	return id.Row >= 0 && id.Row < g.Rows && id.Col >= 0 && id.Col < g.Cols
}

// Adjacent returns the in-bounds neighbors of id in a fixed order.
func (g Grid) Adjacent(id SectorID) []SectorID {
	offsets := evenRowOffsets
	if id.Row%2 != 0 {
		offsets = oddRowOffsets
	}
	out := make([]SectorID, 0, 6)
	for _, d := range offsets {
		n := SectorID{Row: id.Row + d[0], Col: id.Col + d[1]}
		if g.InBounds(n) {
			out = append(out, n)
		}
	}
	return out
}

// IsAdjacent reports whether a and b are neighbors.
func (g Grid) IsAdjacent(a, b SectorID) bool {
	for _, n := range g.Adjacent(a) {
		if n == b {
			return true
		}
	}
	return false
}

// IDs returns every cell id in row-major order.
func (g Grid) IDs() []SectorID {
	ids := make([]SectorID, 0, g.Size())
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			ids = append(ids, SectorID{Row: r, Col: c})
		}
	}
	return ids
}

// HomeSectors returns the two opposite corners granted at match start.
func (g Grid) HomeSectors() (SectorID, SectorID) {
	return SectorID{0, 0}, SectorID{g.Rows - 1, g.Cols - 1}
}

// populate builds the initial sector map. rng supplies the random populations.
func populate(g Grid, rules Rules, rng *rand.Rand) map[SectorID]*Sector {
	sectors := make(map[SectorID]*Sector, g.Size())
	span := rules.MaxInitialPopulation - rules.MinInitialPopulation + 1
	for _, id := range g.IDs() {
		sectors[id] = &Sector{
			ID:         id,
			Population: rules.MinInitialPopulation + rng.Intn(span),
			Defense:    rules.InitialDefense,
		}
	}
	return sectors
}
