// Package catalog holds the static decision tables for billable metric
// classification.
//
// Tables are shipped as embedded YAML and parsed once per process. A parsed
// Catalog is never mutated; every accessor returns a fresh slice, so one
// Catalog is safe to share across concurrent sessions. Adding an entity
// type or unit of measure is a change to catalog.yaml, not to consumers.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/solatis/meterkeeper/internal/types"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedTables []byte

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog.
// Panics if the embedded tables are malformed; they are validated by tests.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(embeddedTables)
		if err != nil {
			panic(fmt.Sprintf("embedded catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Fallbacks are the generic option sets used when a key has no entry.
type Fallbacks struct {
	Units                []types.UnitOfMeasure
	Dimensions           []types.Dimension
	Operators            []types.Operator
	AggregationFunctions []types.AggregationFunction
	AggregationWindows   []types.AggregationWindow
}

// Pair is one (entity type, unit of measure) key of the tables.
type Pair struct {
	EntityType types.EntityType
	Unit       types.UnitOfMeasure
}

type unitEntry struct {
	dimensions []types.Dimension
	functions  []types.AggregationFunction
	windows    []types.AggregationWindow
}

// Catalog is an immutable set of decision tables.
type Catalog struct {
	entityTypes []types.EntityType
	units       map[types.EntityType][]types.UnitOfMeasure
	pairs       map[Pair]unitEntry
	operators   map[types.Dimension][]types.Operator
	fallbacks   Fallbacks
}

// file layout of catalog.yaml
type tablesFile struct {
	Fallbacks struct {
		Units                []string `yaml:"units"`
		Dimensions           []string `yaml:"dimensions"`
		Operators            []string `yaml:"operators"`
		AggregationFunctions []string `yaml:"aggregation_functions"`
		AggregationWindows   []string `yaml:"aggregation_windows"`
	} `yaml:"fallbacks"`
	EntityTypes yaml.Node           `yaml:"entity_types"`
	Operators   map[string][]string `yaml:"operators"`
}

type entityTypeFile struct {
	Units []struct {
		Name                 string   `yaml:"name"`
		Dimensions           []string `yaml:"dimensions"`
		AggregationFunctions []string `yaml:"aggregation_functions"`
		AggregationWindows   []string `yaml:"aggregation_windows"`
	} `yaml:"units"`
}

// Load parses a catalog file with the embedded file's layout.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds and validates a Catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var f tablesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}

	c := &Catalog{
		units:     make(map[types.EntityType][]types.UnitOfMeasure),
		pairs:     make(map[Pair]unitEntry),
		operators: make(map[types.Dimension][]types.Operator),
	}

	var err error
	if c.fallbacks.Units, err = convert[types.UnitOfMeasure]("fallbacks.units", f.Fallbacks.Units); err != nil {
		return nil, err
	}
	if c.fallbacks.Dimensions, err = convert[types.Dimension]("fallbacks.dimensions", f.Fallbacks.Dimensions); err != nil {
		return nil, err
	}
	if c.fallbacks.Operators, err = convert[types.Operator]("fallbacks.operators", f.Fallbacks.Operators); err != nil {
		return nil, err
	}
	if c.fallbacks.AggregationFunctions, err = convert[types.AggregationFunction]("fallbacks.aggregation_functions", f.Fallbacks.AggregationFunctions); err != nil {
		return nil, err
	}
	if c.fallbacks.AggregationWindows, err = convert[types.AggregationWindow]("fallbacks.aggregation_windows", f.Fallbacks.AggregationWindows); err != nil {
		return nil, err
	}

	for dim, ops := range f.Operators {
		converted, err := convert[types.Operator]("operators."+dim, ops)
		if err != nil {
			return nil, err
		}
		c.operators[types.Dimension(dim)] = converted
	}

	// entity_types is decoded pair-wise to keep the file's display order
	if f.EntityTypes.Kind != 0 && f.EntityTypes.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("entity_types must be a mapping")
	}
	for i := 0; i+1 < len(f.EntityTypes.Content); i += 2 {
		keyNode, valNode := f.EntityTypes.Content[i], f.EntityTypes.Content[i+1]
		et := types.EntityType(keyNode.Value)
		if !et.Valid() {
			return nil, fmt.Errorf("entity_types.%s: %w", keyNode.Value, types.ErrUnknownEntityType)
		}
		if _, dup := c.units[et]; dup {
			return nil, fmt.Errorf("entity_types.%s: duplicate entity type", et)
		}
		var ef entityTypeFile
		if err := valNode.Decode(&ef); err != nil {
			return nil, fmt.Errorf("entity_types.%s: %w", et, err)
		}
		if len(ef.Units) == 0 {
			return nil, fmt.Errorf("entity_types.%s: no units", et)
		}
		c.entityTypes = append(c.entityTypes, et)
		for _, u := range ef.Units {
			unit := types.UnitOfMeasure(u.Name)
			path := fmt.Sprintf("entity_types.%s.%s", et, unit)
			if !unit.IsSet() {
				return nil, fmt.Errorf("entity_types.%s: unit without name", et)
			}
			key := Pair{EntityType: et, Unit: unit}
			if _, dup := c.pairs[key]; dup {
				return nil, fmt.Errorf("%s: duplicate unit", path)
			}
			var entry unitEntry
			if entry.dimensions, err = convert[types.Dimension](path+".dimensions", u.Dimensions); err != nil {
				return nil, err
			}
			if entry.functions, err = convert[types.AggregationFunction](path+".aggregation_functions", u.AggregationFunctions); err != nil {
				return nil, err
			}
			if entry.windows, err = convert[types.AggregationWindow](path+".aggregation_windows", u.AggregationWindows); err != nil {
				return nil, err
			}
			for _, dim := range entry.dimensions {
				if _, ok := c.operators[dim]; !ok {
					return nil, fmt.Errorf("%s: dimension %s has no operators", path, dim)
				}
			}
			c.units[et] = append(c.units[et], unit)
			c.pairs[key] = entry
		}
	}

	return c, nil
}

// convert checks a list is non-empty and duplicate-free and retypes it.
func convert[T ~string](path string, in []string) ([]T, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%s: empty list", path)
	}
	out := make([]T, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" {
			return nil, fmt.Errorf("%s: empty value", path)
		}
		if seen[s] {
			return nil, fmt.Errorf("%s: duplicate value %q", path, s)
		}
		seen[s] = true
		out = append(out, T(s))
	}
	return out, nil
}

// EntityTypes returns the entity types with catalog entries, in file order.
func (c *Catalog) EntityTypes() []types.EntityType {
	return slices.Clone(c.entityTypes)
}

// UnitsOfMeasure returns the units legal for et.
func (c *Catalog) UnitsOfMeasure(et types.EntityType) ([]types.UnitOfMeasure, bool) {
	units, ok := c.units[et]
	return slices.Clone(units), ok
}

// Dimensions returns the dimensions legal for (et, unit).
func (c *Catalog) Dimensions(et types.EntityType, unit types.UnitOfMeasure) ([]types.Dimension, bool) {
	entry, ok := c.pairs[Pair{et, unit}]
	return slices.Clone(entry.dimensions), ok
}

// Operators returns the operators legal for dim.
func (c *Catalog) Operators(dim types.Dimension) ([]types.Operator, bool) {
	ops, ok := c.operators[dim]
	return slices.Clone(ops), ok
}

// AggregationFunctions returns the functions legal for (et, unit).
func (c *Catalog) AggregationFunctions(et types.EntityType, unit types.UnitOfMeasure) ([]types.AggregationFunction, bool) {
	entry, ok := c.pairs[Pair{et, unit}]
	return slices.Clone(entry.functions), ok
}

// AggregationWindows returns the windows legal for (et, unit).
func (c *Catalog) AggregationWindows(et types.EntityType, unit types.UnitOfMeasure) ([]types.AggregationWindow, bool) {
	entry, ok := c.pairs[Pair{et, unit}]
	return slices.Clone(entry.windows), ok
}

// Fallbacks returns copies of the generic option sets.
func (c *Catalog) Fallbacks() Fallbacks {
	return Fallbacks{
		Units:                slices.Clone(c.fallbacks.Units),
		Dimensions:           slices.Clone(c.fallbacks.Dimensions),
		Operators:            slices.Clone(c.fallbacks.Operators),
		AggregationFunctions: slices.Clone(c.fallbacks.AggregationFunctions),
		AggregationWindows:   slices.Clone(c.fallbacks.AggregationWindows),
	}
}

// Pairs returns every (entity type, unit) key in file order.
func (c *Catalog) Pairs() []Pair {
	var out []Pair
	for _, et := range c.entityTypes {
		for _, unit := range c.units[et] {
			out = append(out, Pair{EntityType: et, Unit: unit})
		}
	}
	return out
}

// InferEntityType finds the first entity type listing unit.
// Used when a stored record has a unit but lost its classification.
func (c *Catalog) InferEntityType(unit types.UnitOfMeasure) (types.EntityType, bool) {
	for _, p := range c.Pairs() {
		if p.Unit == unit {
			return p.EntityType, true
		}
	}
	return types.EntityTypeUnset, false
}

// InferClassification finds the first pair whose dimensions include dim.
func (c *Catalog) InferClassification(dim types.Dimension) (Pair, bool) {
	for _, p := range c.Pairs() {
		if slices.Contains(c.pairs[p].dimensions, dim) {
			return p, true
		}
	}
	return Pair{}, false
}
