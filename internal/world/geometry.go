package world

import "math"

// Point is a continuous position in tile units. Players sit between tiles
// while interpolating along a path.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Tile is a discrete grid cell.
type Tile struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Vector is a facing/velocity direction in tile units.
type Vector struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

func (p Point) Tile() Tile {
	return Tile{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
}

func (t Tile) Point() Point {
	return Point{X: float64(t.X), Y: float64(t.Y)}
}

// Distance is the Euclidean distance between two points, in tiles.
func Distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// TileDistance is the Euclidean distance between tile centers.
func TileDistance(a, b Tile) float64 {
	return Distance(a.Point(), b.Point())
}

// Manhattan is the L1 distance between tiles, the A* heuristic.
func Manhattan(a, b Tile) int {
	return absInt(a.X-b.X) + absInt(a.Y-b.Y)
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// Normalize returns v scaled to unit length, or the zero vector unchanged.
func (v Vector) Normalize() Vector {
	n := math.Sqrt(v.DX*v.DX + v.DY*v.DY)
	if n == 0 {
		return v
	}
	return Vector{DX: v.DX / n, DY: v.DY / n}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
