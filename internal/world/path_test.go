package world

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func noOccupied(Tile) bool { return false }

func TestFindRouteStraightLine(t *testing.T) {
	m := NewWorldMap(10, 10)
	route := FindRoute(m, Point{X: 0, Y: 0}, Tile{X: 5, Y: 0}, noOccupied, 1_000, 2.0)
	require.NotNil(t, route)
	require.Nil(t, route.NewDestination)
	require.Len(t, route.Path, 6)
	require.Equal(t, Tile{X: 0, Y: 0}, route.Path[0].Pos)
	require.Equal(t, Tile{X: 5, Y: 0}, route.Path[5].Pos)
	// 2 tiles/s means 500ms per tile, starting at now.
	require.Equal(t, int64(1_000), route.Path[0].T)
	require.Equal(t, int64(1_500), route.Path[1].T)
	require.Equal(t, int64(3_500), route.Path[5].T)
}

func TestFindRouteDetoursAroundWall(t *testing.T) {
	m := NewWorldMap(10, 10)
	for y := 0; y < 9; y++ {
		m.SetBlocked(Tile{X: 5, Y: y}, true)
	}
	route := FindRoute(m, Point{X: 0, Y: 0}, Tile{X: 9, Y: 0}, noOccupied, 0, 2.0)
	require.NotNil(t, route)
	require.Equal(t, Tile{X: 9, Y: 0}, route.Path[len(route.Path)-1].Pos)

	throughGap := false
	for _, s := range route.Path {
		require.False(t, m.IsBlocked(s.Pos))
		if s.Pos == (Tile{X: 5, Y: 9}) {
			throughGap = true
		}
	}
	require.True(t, throughGap, "route must use the single gap in the wall")
}

func TestFindRouteAdjustsBlockedDestination(t *testing.T) {
	m := NewWorldMap(10, 10)
	for y := 0; y < 9; y++ {
		m.SetBlocked(Tile{X: 5, Y: y}, true)
	}
	route := FindRoute(m, Point{X: 0, Y: 0}, Tile{X: 5, Y: 0}, noOccupied, 0, 2.0)
	require.NotNil(t, route)
	require.NotNil(t, route.NewDestination)
	require.Equal(t, Tile{X: 4, Y: 0}, *route.NewDestination)
	require.Equal(t, Tile{X: 4, Y: 0}, route.Path[len(route.Path)-1].Pos)
}

func TestFindRouteUnreachableGoal(t *testing.T) {
	m := NewWorldMap(10, 10)
	// Passable goal sealed inside a ring of walls.
	goal := Tile{X: 7, Y: 7}
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			m.SetBlocked(Tile{X: goal.X + dx, Y: goal.Y + dy}, true)
		}
	}
	route := FindRoute(m, Point{X: 0, Y: 0}, goal, noOccupied, 0, 2.0)
	require.Nil(t, route)
}

func TestFindRouteTreatsOccupiedAsBlocked(t *testing.T) {
	m := NewWorldMap(3, 1)
	occupied := func(tl Tile) bool { return tl == Tile{X: 1, Y: 0} }
	route := FindRoute(m, Point{X: 0, Y: 0}, Tile{X: 2, Y: 0}, occupied, 0, 2.0)
	require.Nil(t, route, "single corridor blocked by another player")
}

func TestFindRouteAlreadyThere(t *testing.T) {
	m := NewWorldMap(10, 10)
	route := FindRoute(m, Point{X: 3, Y: 3}, Tile{X: 3, Y: 3}, noOccupied, 42, 2.0)
	require.NotNil(t, route)
	require.Len(t, route.Path, 1)
	require.Equal(t, int64(42), route.Path[0].T)
}

func TestPathPositionInterpolates(t *testing.T) {
	path := []PathStep{
		{Pos: Tile{X: 0, Y: 0}, T: 1_000},
		{Pos: Tile{X: 1, Y: 0}, T: 1_500},
		{Pos: Tile{X: 2, Y: 0}, T: 2_000},
	}

	pos, _, speed := PathPosition(path, 900)
	require.Equal(t, Point{X: 0, Y: 0}, pos)
	require.Zero(t, speed)

	pos, facing, speed := PathPosition(path, 1_250)
	require.InDelta(t, 0.5, pos.X, 1e-9)
	require.InDelta(t, 0, pos.Y, 1e-9)
	require.Equal(t, Vector{DX: 1, DY: 0}, facing)
	require.InDelta(t, 2.0, speed, 1e-9)

	pos, _, speed = PathPosition(path, 2_500)
	require.Equal(t, Point{X: 2, Y: 0}, pos)
	require.Zero(t, speed)
}

func TestFindRouteProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	m := NewWorldMap(16, 16)

	properties.Property("open-grid routes reach the goal in unit steps with monotone times", prop.ForAll(
		func(sx, sy, gx, gy int) bool {
			start := Tile{X: sx, Y: sy}
			goal := Tile{X: gx, Y: gy}
			route := FindRoute(m, start.Point(), goal, noOccupied, 1_000, 2.0)
			if route == nil || len(route.Path) == 0 {
				return false
			}
			path := route.Path
			if path[0].Pos != start || path[len(path)-1].Pos != goal {
				return false
			}
			// A* on an empty grid is optimal: exactly manhattan+1 steps.
			if len(path) != Manhattan(start, goal)+1 {
				return false
			}
			for i := 1; i < len(path); i++ {
				if Manhattan(path[i-1].Pos, path[i].Pos) != 1 {
					return false
				}
				if path[i].T <= path[i-1].T {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 15), gen.IntRange(0, 15),
		gen.IntRange(0, 15), gen.IntRange(0, 15),
	))

	properties.TestingRun(t)
}
