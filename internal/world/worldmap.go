package world

// Zone names referenced by the balance rules. Any rectangle in the map data
// may introduce further names; these are the ones the kernel treats specially.
const (
	ZoneDarkAlley   = "darkAlley"
	ZoneCasino      = "casino"
	ZoneSuburb      = "suburb"
	ZoneUnderground = "underground"
	ZoneStreets     = "" // outside every named rectangle
)

// ZoneRect is an axis-aligned rectangular region of the map, inclusive of
// its edges. Rectangles are checked in order; the first hit wins.
type ZoneRect struct {
	Name string `json:"name" yaml:"name"`
	X0   int    `json:"x0" yaml:"x0"`
	Y0   int    `json:"y0" yaml:"y0"`
	X1   int    `json:"x1" yaml:"x1"`
	Y1   int    `json:"y1" yaml:"y1"`
}

func (z ZoneRect) contains(t Tile) bool {
	return t.X >= z.X0 && t.X <= z.X1 && t.Y >= z.Y0 && t.Y <= z.Y1
}

// WorldMap is the static tile grid: dimensions, blocked cells, and the zone
// partition. It is immutable after construction and shared across ticks.
type WorldMap struct {
	Width   int        `json:"width"`
	Height  int        `json:"height"`
	Blocked []bool     `json:"blocked"` // row-major, len Width*Height
	Zones   []ZoneRect `json:"zones"`
}

func NewWorldMap(width, height int) *WorldMap {
	return &WorldMap{
		Width:   width,
		Height:  height,
		Blocked: make([]bool, width*height),
	}
}

func (m *WorldMap) InBounds(t Tile) bool {
	return t.X >= 0 && t.X < m.Width && t.Y >= 0 && t.Y < m.Height
}

func (m *WorldMap) IsBlocked(t Tile) bool {
	if !m.InBounds(t) {
		return true
	}
	return m.Blocked[t.Y*m.Width+t.X]
}

func (m *WorldMap) SetBlocked(t Tile, blocked bool) {
	if m.InBounds(t) {
		m.Blocked[t.Y*m.Width+t.X] = blocked
	}
}

var neighborOffsets = [4]Tile{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}

// Neighbors returns the in-bounds 4-connected neighbors of t, passable or not.
func (m *WorldMap) Neighbors(t Tile) []Tile {
	out := make([]Tile, 0, 4)
	for _, d := range neighborOffsets {
		n := Tile{X: t.X + d.X, Y: t.Y + d.Y}
		if m.InBounds(n) {
			out = append(out, n)
		}
	}
	return out
}

// ZoneOf returns the zone name covering a position, or ZoneStreets.
func (m *WorldMap) ZoneOf(p Point) string {
	t := p.Tile()
	for _, z := range m.Zones {
		if z.contains(t) {
			return z.Name
		}
	}
	return ZoneStreets
}
