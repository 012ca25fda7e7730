package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/townd/server/internal/world"
)

func writeYAML(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMapTable(t *testing.T) {
	path := writeYAML(t, "maps.yaml", `
maps:
  - name: town
    width: 12
    height: 10
    blocked:
      - { x: 3, y: 3, w: 2, h: 2 }
    zones:
      - { zone: darkAlley, x: 0, y: 0, w: 4, h: 4 }
      - { zone: casino, x: 8, y: 6, w: 4, h: 4 }
`)
	table, err := LoadMapTable(path)
	require.NoError(t, err)
	require.Equal(t, 1, table.Count())
	require.Nil(t, table.Get("atlantis"))

	def := table.Get("town")
	require.NotNil(t, def)
	require.Equal(t, 12, def.Width)
	require.Len(t, def.Zones, 2)
}

func TestMapDefBuild(t *testing.T) {
	def := &MapDef{
		Name: "t", Width: 12, Height: 10,
		Blocked: []RectDef{{X: 3, Y: 3, W: 2, H: 2}},
		Zones: []ZoneDef{
			{Zone: world.ZoneDarkAlley, X: 0, Y: 0, W: 4, H: 4},
			{Zone: world.ZoneCasino, X: 8, Y: 6, W: 4, H: 4},
		},
	}
	m := def.Build()
	require.Equal(t, 12, m.Width)
	require.Equal(t, 10, m.Height)

	require.True(t, m.IsBlocked(world.Tile{X: 3, Y: 3}))
	require.True(t, m.IsBlocked(world.Tile{X: 4, Y: 4}))
	require.False(t, m.IsBlocked(world.Tile{X: 5, Y: 5}), "rect is w×h, exclusive past the edge")
	require.False(t, m.IsBlocked(world.Tile{X: 2, Y: 3}))

	require.Equal(t, world.ZoneDarkAlley, m.ZoneOf(world.Point{X: 0, Y: 0}))
	require.Equal(t, world.ZoneDarkAlley, m.ZoneOf(world.Point{X: 3, Y: 3}))
	require.Equal(t, world.ZoneCasino, m.ZoneOf(world.Point{X: 11, Y: 9}))
	require.Equal(t, world.ZoneStreets, m.ZoneOf(world.Point{X: 6, Y: 1}))
}

func TestLoadMapTableRejectsBadDimensions(t *testing.T) {
	path := writeYAML(t, "maps.yaml", `
maps:
  - name: broken
    width: 0
    height: 10
`)
	_, err := LoadMapTable(path)
	require.Error(t, err)
}

func TestLoadMapTableMissingFile(t *testing.T) {
	_, err := LoadMapTable(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestShippedMapData(t *testing.T) {
	table, err := LoadMapTable(filepath.Join("..", "..", "data", "maps.yaml"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, table.Count(), 1)

	town := table.Get("town")
	require.NotNil(t, town)
	m := town.Build()

	// Every named zone must contain at least one passable spawn tile.
	for _, z := range m.Zones {
		passable := false
		for y := z.Y0; y <= z.Y1 && !passable; y++ {
			for x := z.X0; x <= z.X1; x++ {
				if !m.IsBlocked(world.Tile{X: x, Y: y}) {
					passable = true
					break
				}
			}
		}
		require.True(t, passable, "zone %s is fully blocked", z.Name)
	}
}
