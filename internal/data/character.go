package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CharacterDef is one entry of the town roster: sprite sheet name plus the
// persona text handed to agents spawned from it.
type CharacterDef struct {
	Name        string `yaml:"name"`
	Character   string `yaml:"character"` // sprite sheet key
	Personality string `yaml:"personality"`
	Identity    string `yaml:"identity"`
	Plan        string `yaml:"plan"`
	Description string `yaml:"description"`
	InitialZone string `yaml:"initial_zone"`
}

type characterListFile struct {
	Characters []CharacterDef `yaml:"characters"`
}

// CharacterTable holds the roster indexed by name.
type CharacterTable struct {
	byName []*CharacterDef
	index  map[string]*CharacterDef
}

// LoadCharacterTable loads the character roster from a YAML file.
func LoadCharacterTable(path string) (*CharacterTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read character list: %w", err)
	}
	var f characterListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse character list: %w", err)
	}
	t := &CharacterTable{index: make(map[string]*CharacterDef, len(f.Characters))}
	for i := range f.Characters {
		c := &f.Characters[i]
		if c.Name == "" {
			return nil, fmt.Errorf("character %d: missing name", i)
		}
		t.byName = append(t.byName, c)
		t.index[c.Name] = c
	}
	return t, nil
}

// Get returns a character by name, or nil if not found.
func (t *CharacterTable) Get(name string) *CharacterDef {
	return t.index[name]
}

// All returns the roster in file order.
func (t *CharacterTable) All() []*CharacterDef {
	return t.byName
}

// Count returns the number of loaded characters.
func (t *CharacterTable) Count() int {
	return len(t.byName)
}
