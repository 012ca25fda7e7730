package world

import (
	"container/heap"
	"math"
)

// PathStep is one waypoint of a route: the tile plus the simulated time the
// walker arrives there. Times are strictly monotone along the path.
type PathStep struct {
	Pos Tile  `json:"pos"`
	T   int64 `json:"t"`
}

// Route is the result of a path search. NewDestination is set when the
// requested destination was blocked and the search re-targeted the nearest
// reachable passable cell.
type Route struct {
	Path           []PathStep
	NewDestination *Tile
}

type pathNode struct {
	tile    Tile
	g       float64 // cost from start
	f       float64 // g + heuristic
	heading int     // 0..3 index into neighborOffsets, -1 at start
	parent  *pathNode
	index   int // heap bookkeeping
}

type nodeHeap []*pathNode

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	// Prefer the node reached without turning; keeps routes straight.
	return h[i].g > h[j].g
}
func (h nodeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *nodeHeap) Push(x any) {
	n := x.(*pathNode)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *nodeHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return n
}

// FindRoute runs A* over the 4-connected grid from the walker's current
// position to the destination tile. occupied reports tiles held by other
// players (treated as blocked for the search). speed is in tiles per second;
// arrival times start at now.
//
// Returns nil when no route exists at all. A blocked destination is adjusted
// to the nearest reachable passable cell and surfaced via NewDestination.
func FindRoute(m *WorldMap, from Point, to Tile, occupied func(Tile) bool, now int64, speed float64) *Route {
	if speed <= 0 {
		speed = 1
	}
	start := from.Tile()
	if !m.InBounds(start) || !m.InBounds(to) {
		return nil
	}

	var route Route
	goal := to
	if m.IsBlocked(goal) || occupied(goal) {
		adjusted, ok := nearestPassable(m, goal, occupied)
		if !ok {
			return nil
		}
		goal = adjusted
		route.NewDestination = &goal
	}

	if start == goal {
		route.Path = []PathStep{{Pos: start, T: now}}
		return &route
	}

	best := map[Tile]float64{start: 0}
	open := &nodeHeap{}
	heap.Init(open)

	startNode := &pathNode{tile: start, g: 0, f: float64(Manhattan(start, goal)), heading: -1}
	heap.Push(open, startNode)

	var goalNode *pathNode
	for open.Len() > 0 {
		cur := heap.Pop(open).(*pathNode)
		if cur.tile == goal {
			goalNode = cur
			break
		}
		if g, ok := best[cur.tile]; ok && cur.g > g {
			continue // stale entry
		}
		for dir, d := range neighborOffsets {
			next := Tile{X: cur.tile.X + d.X, Y: cur.tile.Y + d.Y}
			if !m.InBounds(next) || m.IsBlocked(next) {
				continue
			}
			if next != goal && occupied(next) {
				continue
			}
			g := cur.g + 1
			if dir != cur.heading && cur.heading != -1 {
				// Heading-continuity tie-break: a hair of extra cost per
				// turn keeps equal-length routes from zig-zagging.
				g += 0.001
			}
			if prev, ok := best[next]; ok && g >= prev {
				continue
			}
			best[next] = g
			heap.Push(open, &pathNode{
				tile:    next,
				g:       g,
				f:       g + float64(Manhattan(next, goal)),
				heading: dir,
				parent:  cur,
			})
		}
	}
	if goalNode == nil {
		return nil
	}

	// Walk parents back to the start, then reverse.
	tiles := []Tile{}
	for n := goalNode; n != nil; n = n.parent {
		tiles = append(tiles, n.tile)
	}
	for i, j := 0, len(tiles)-1; i < j; i, j = i+1, j-1 {
		tiles[i], tiles[j] = tiles[j], tiles[i]
	}

	msPerTile := 1000.0 / speed
	path := make([]PathStep, len(tiles))
	t := float64(now)
	for i, tile := range tiles {
		if i > 0 {
			t += msPerTile
		}
		path[i] = PathStep{Pos: tile, T: int64(t)}
	}
	route.Path = path
	return &route
}

// nearestPassable spirals outward from t looking for the closest in-bounds
// cell that is neither blocked nor occupied.
func nearestPassable(m *WorldMap, t Tile, occupied func(Tile) bool) (Tile, bool) {
	maxR := m.Width + m.Height
	for r := 1; r <= maxR; r++ {
		bestDist := math.MaxFloat64
		var bestTile Tile
		found := false
		for dx := -r; dx <= r; dx++ {
			for dy := -r; dy <= r; dy++ {
				if absInt(dx) != r && absInt(dy) != r {
					continue // ring only
				}
				c := Tile{X: t.X + dx, Y: t.Y + dy}
				if !m.InBounds(c) || m.IsBlocked(c) || occupied(c) {
					continue
				}
				d := TileDistance(t, c)
				if d < bestDist {
					bestDist = d
					bestTile = c
					found = true
				}
			}
		}
		if found {
			return bestTile, true
		}
	}
	return Tile{}, false
}

// PathPosition interpolates along a route at the given simulated time,
// returning the current position, facing, and speed in tiles per second.
// Before the first step it sits at the start; past the last it sits at the end.
func PathPosition(path []PathStep, now int64) (Point, Vector, float64) {
	if len(path) == 0 {
		return Point{}, Vector{}, 0
	}
	if now <= path[0].T {
		return path[0].Pos.Point(), facingBetween(path, 0), 0
	}
	last := path[len(path)-1]
	if now >= last.T {
		return last.Pos.Point(), facingBetween(path, len(path)-1), 0
	}
	for i := 1; i < len(path); i++ {
		if now < path[i].T {
			a, b := path[i-1], path[i]
			span := float64(b.T - a.T)
			frac := float64(now-a.T) / span
			ax, ay := a.Pos.Point().X, a.Pos.Point().Y
			bx, by := b.Pos.Point().X, b.Pos.Point().Y
			pos := Point{X: ax + (bx-ax)*frac, Y: ay + (by-ay)*frac}
			facing := Vector{DX: bx - ax, DY: by - ay}.Normalize()
			speed := TileDistance(a.Pos, b.Pos) / span * 1000
			return pos, facing, speed
		}
	}
	return last.Pos.Point(), facingBetween(path, len(path)-1), 0
}

func facingBetween(path []PathStep, i int) Vector {
	if len(path) < 2 {
		return Vector{DX: 0, DY: 1}
	}
	var a, b Tile
	if i >= len(path)-1 {
		a, b = path[len(path)-2].Pos, path[len(path)-1].Pos
	} else {
		a, b = path[i].Pos, path[i+1].Pos
	}
	return Vector{DX: float64(b.X - a.X), DY: float64(b.Y - a.Y)}.Normalize()
}
