package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/townd/server/internal/world"
)

// MapDef describes one town layout loaded from maps.yaml. Blocked rects are
// buildings and water; zones name the special districts.
type MapDef struct {
	Name    string    `yaml:"name"`
	Width   int       `yaml:"width"`
	Height  int       `yaml:"height"`
	Blocked []RectDef `yaml:"blocked"`
	Zones   []ZoneDef `yaml:"zones"`
}

type RectDef struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	W int `yaml:"w"`
	H int `yaml:"h"`
}

type ZoneDef struct {
	Zone string `yaml:"zone"`
	X    int    `yaml:"x"`
	Y    int    `yaml:"y"`
	W    int    `yaml:"w"`
	H    int    `yaml:"h"`
}

type mapListFile struct {
	Maps []MapDef `yaml:"maps"`
}

// MapTable holds all map definitions indexed by name.
type MapTable struct {
	maps map[string]*MapDef
}

// LoadMapTable loads map definitions from a YAML file.
func LoadMapTable(path string) (*MapTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map list: %w", err)
	}
	var f mapListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse map list: %w", err)
	}
	t := &MapTable{maps: make(map[string]*MapDef, len(f.Maps))}
	for i := range f.Maps {
		m := &f.Maps[i]
		if m.Width <= 0 || m.Height <= 0 {
			return nil, fmt.Errorf("map %q: bad dimensions %dx%d", m.Name, m.Width, m.Height)
		}
		t.maps[m.Name] = m
	}
	return t, nil
}

// Get returns a map definition by name, or nil if not found.
func (t *MapTable) Get(name string) *MapDef {
	return t.maps[name]
}

// Count returns the number of loaded map definitions.
func (t *MapTable) Count() int {
	return len(t.maps)
}

// Build materializes the definition into a tile grid the engine can walk.
func (d *MapDef) Build() *world.WorldMap {
	m := world.NewWorldMap(d.Width, d.Height)
	for _, r := range d.Blocked {
		for y := r.Y; y < r.Y+r.H; y++ {
			for x := r.X; x < r.X+r.W; x++ {
				m.SetBlocked(world.Tile{X: x, Y: y}, true)
			}
		}
	}
	for _, z := range d.Zones {
		m.Zones = append(m.Zones, world.ZoneRect{
			Name: z.Zone,
			X0:   z.X, Y0: z.Y,
			X1: z.X + z.W - 1, Y1: z.Y + z.H - 1,
		})
	}
	return m
}
