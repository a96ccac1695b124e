package optimizer

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// PARAMETER SET
// ============================================================================

// ParameterSet maps parameter names to values. Sets produced by a grid are
// never mutated; use Clone before changing one.
type ParameterSet map[string]float64

// Clone creates a copy of the parameter set
func (ps ParameterSet) Clone() ParameterSet {
	clone := make(ParameterSet, len(ps))
	for k, v := range ps {
		clone[k] = v
	}
	return clone
}

// Equal reports structural equality
func (ps ParameterSet) Equal(other ParameterSet) bool {
	if len(ps) != len(other) {
		return false
	}
	for k, v := range ps {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Key returns a canonical string form, equal for equal sets
func (ps ParameterSet) Key() string {
	names := make([]string, 0, len(ps))
	for k := range ps {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + strconv.FormatFloat(ps[name], 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// ============================================================================
// PARAMETER GRID
// ============================================================================

// ParamGrid maps parameter names to candidate values. Keys keep insertion
// order; the Cartesian product iterates them sorted by name.
type ParamGrid struct {
	keys   []string
	values map[string][]float64
}

// NewParamGrid creates an empty grid
func NewParamGrid() *ParamGrid {
	return &ParamGrid{values: make(map[string][]float64)}
}

// DefaultGrid returns the grid searched when none is configured
func DefaultGrid() *ParamGrid {
	g := NewParamGrid()
	_ = g.Add(ParamRSILow, 15, 25, 30)
	_ = g.Add(ParamRSIHigh, 70, 75, 80)
	_ = g.Add(ParamSMAPeriod, 15, 20, 30)
	return g
}

// Add appends a parameter with its candidate values
func (g *ParamGrid) Add(name string, values ...float64) error {
	if name == "" {
		return fmt.Errorf("parameter name is required")
	}
	if len(values) == 0 {
		return fmt.Errorf("parameter %q has no candidate values", name)
	}
	if _, exists := g.values[name]; exists {
		return fmt.Errorf("parameter %q defined twice", name)
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("parameter %q has non-finite value", name)
		}
	}

	g.keys = append(g.keys, name)
	g.values[name] = append([]float64(nil), values...)
	return nil
}

// MustAdd is Add for statically known grids
func (g *ParamGrid) MustAdd(name string, values ...float64) *ParamGrid {
	if err := g.Add(name, values...); err != nil {
		panic(err)
	}
	return g
}

// Keys returns parameter names in insertion order
func (g *ParamGrid) Keys() []string {
	return append([]string(nil), g.keys...)
}

// Values returns the candidate values of a parameter
func (g *ParamGrid) Values(name string) []float64 {
	return append([]float64(nil), g.values[name]...)
}

// Size returns the number of combinations
func (g *ParamGrid) Size() int {
	if g == nil || len(g.keys) == 0 {
		return 0
	}
	size := 1
	for _, k := range g.keys {
		size *= len(g.values[k])
	}
	return size
}

// Combinations enumerates the Cartesian product over keys sorted by name.
// The first name varies slowest and values keep their given order.
func (g *ParamGrid) Combinations() []ParameterSet {
	size := g.Size()
	if size == 0 {
		return nil
	}

	keys := g.Keys()
	sort.Strings(keys)

	combinations := make([]ParameterSet, 0, size)
	indices := make([]int, len(keys))
	for {
		set := make(ParameterSet, len(keys))
		for i, k := range keys {
			set[k] = g.values[k][indices[i]]
		}
		combinations = append(combinations, set)

		// odometer increment, last key fastest
		pos := len(keys) - 1
		for pos >= 0 {
			indices[pos]++
			if indices[pos] < len(g.values[keys[pos]]) {
				break
			}
			indices[pos] = 0
			pos--
		}
		if pos < 0 {
			return combinations
		}
	}
}

// ParseGridYAML reads a grid from a YAML mapping of name to value list,
// preserving document key order.
func ParseGridYAML(data []byte) (*ParamGrid, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse parameter grid: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("parameter grid document is empty")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parameter grid must be a mapping, got line %d", root.Line)
	}

	grid := NewParamGrid()
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valueNode := root.Content[i], root.Content[i+1]

		var values []float64
		if err := valueNode.Decode(&values); err != nil {
			return nil, fmt.Errorf("parameter %q (line %d): %w", keyNode.Value, valueNode.Line, err)
		}
		if err := grid.Add(keyNode.Value, values...); err != nil {
			return nil, err
		}
	}

	return grid, nil
}
