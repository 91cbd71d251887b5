// Package strategy holds the registry of named rule scripts that can be
// backtested by name.
package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/algomatic/dslbacktest/pkg/ast"
	"github.com/algomatic/dslbacktest/pkg/dsl"
)

// Preset is a named rule script.
type Preset struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Philosophy  string   `json:"philosophy"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	DSL         string   `json:"dsl"`
}

// Script parses the preset's rules.
func (p *Preset) Script() (*ast.Script, error) {
	s, err := dsl.Parse(p.DSL)
	if err != nil {
		return nil, fmt.Errorf("preset %s: %w", p.Name, err)
	}
	return s, nil
}

var (
	mu            sync.RWMutex
	presetsByID   = make(map[int]*Preset)
	presetsByName = make(map[string]*Preset)
)

// Register adds a preset to the registry.
func Register(p *Preset) {
	mu.Lock()
	defer mu.Unlock()
	presetsByID[p.ID] = p
	presetsByName[p.Name] = p
}

// RegisterAll adds multiple presets to the registry.
func RegisterAll(presets []*Preset) int {
	mu.Lock()
	defer mu.Unlock()
	for _, p := range presets {
		presetsByID[p.ID] = p
		presetsByName[p.Name] = p
	}
	slog.Debug("Registered presets", "count", len(presets), "total", len(presetsByID))
	return len(presets)
}

// Get returns a preset by ID, or nil if not found.
func Get(id int) *Preset {
	mu.RLock()
	defer mu.RUnlock()
	return presetsByID[id]
}

// GetByName returns a preset by name, or nil if not found.
func GetByName(name string) *Preset {
	mu.RLock()
	defer mu.RUnlock()
	return presetsByName[name]
}

// GetAll returns all registered presets sorted by ID.
func GetAll() []*Preset {
	mu.RLock()
	defer mu.RUnlock()
	result := make([]*Preset, 0, len(presetsByID))
	for _, p := range presetsByID {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// GetByCategory returns all presets of a category sorted by ID.
func GetByCategory(category string) []*Preset {
	var result []*Preset
	for _, p := range GetAll() {
		if p.Category == category {
			result = append(result, p)
		}
	}
	return result
}

// Clear removes all registered presets.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	presetsByID = make(map[int]*Preset)
	presetsByName = make(map[string]*Preset)
}

// Count returns the number of registered presets.
func Count() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(presetsByID)
}
