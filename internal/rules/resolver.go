// internal/rules/resolver.go
package rules

import (
	"slices"

	"github.com/solatis/meterkeeper/internal/catalog"
	"github.com/solatis/meterkeeper/internal/types"
)

/*
 * Field resolution over the catalog tables.
 *
 * Every resolver applies the same three policies:
 *   1. Placeholder: until the resolver's own inputs are set, the result is a
 *      single disabled option (Placeholder=true, no Values).
 *   2. Fallback: a key missing from the catalog yields the generic fallback
 *      set, never an empty list and never free text.
 *   3. Preserve: a non-empty current value outside the resolved set is
 *      prepended so stored data pre-dating a catalog change is shown, not
 *      dropped. Preserved values are not catalog members; Known reports
 *      false for them and final validation decides whether to admit them.
 *
 * Resolvers are pure: the catalog is immutable and every result is a fresh
 * slice, so repeated calls with equal inputs return equal Options.
 */

// Options is the legal choice set for one dependent field.
type Options[T ~string] struct {
	Values      []T  `json:"values"`
	Placeholder bool `json:"placeholder,omitempty"`
	Fallback    bool `json:"fallback,omitempty"`
	Preserved   bool `json:"preserved,omitempty"`
}

// Contains reports whether v is offered, preserved values included.
func (o Options[T]) Contains(v T) bool {
	return slices.Contains(o.Values, v)
}

// Known reports whether v belongs to the catalog (or fallback) set.
func (o Options[T]) Known(v T) bool {
	if o.Placeholder || v == "" {
		return false
	}
	if o.Preserved && o.Values[0] == v {
		return false
	}
	return slices.Contains(o.Values, v)
}

// Strings returns the values as plain strings.
func (o Options[T]) Strings() []string {
	out := make([]string, len(o.Values))
	for i, v := range o.Values {
		out[i] = string(v)
	}
	return out
}

// Resolver computes option sets from a catalog.
type Resolver struct {
	catalog *catalog.Catalog
}

// NewResolver wraps c; a nil catalog selects catalog.Default().
func NewResolver(c *catalog.Catalog) *Resolver {
	if c == nil {
		c = catalog.Default()
	}
	return &Resolver{catalog: c}
}

// Catalog returns the tables the resolver reads.
func (r *Resolver) Catalog() *catalog.Catalog { return r.catalog }

// ResolveEntityTypes returns the closed entity type set.
func (r *Resolver) ResolveEntityTypes(current types.EntityType) Options[types.EntityType] {
	return resolve(slices.Clone(types.EntityTypes), true, nil, current)
}

// ResolveUnitsOfMeasure returns the units legal for entityType.
func (r *Resolver) ResolveUnitsOfMeasure(entityType types.EntityType, current types.UnitOfMeasure) Options[types.UnitOfMeasure] {
	if !entityType.IsSet() {
		return Options[types.UnitOfMeasure]{Placeholder: true}
	}
	values, ok := r.catalog.UnitsOfMeasure(entityType)
	return resolve(values, ok, r.catalog.Fallbacks().Units, current)
}

// ResolveDimensions returns the dimensions legal for (entityType, unit).
func (r *Resolver) ResolveDimensions(entityType types.EntityType, unit types.UnitOfMeasure, current types.Dimension) Options[types.Dimension] {
	if !entityType.IsSet() || !unit.IsSet() {
		return Options[types.Dimension]{Placeholder: true}
	}
	values, ok := r.catalog.Dimensions(entityType, unit)
	return resolve(values, ok, r.catalog.Fallbacks().Dimensions, current)
}

// ResolveOperators returns the operators legal for dimension.
func (r *Resolver) ResolveOperators(dimension types.Dimension, current types.Operator) Options[types.Operator] {
	if !dimension.IsSet() {
		return Options[types.Operator]{Placeholder: true}
	}
	values, ok := r.catalog.Operators(dimension)
	return resolve(values, ok, r.catalog.Fallbacks().Operators, current)
}

// ResolveAggregationFunctions returns the functions legal for (entityType, unit).
func (r *Resolver) ResolveAggregationFunctions(entityType types.EntityType, unit types.UnitOfMeasure, current types.AggregationFunction) Options[types.AggregationFunction] {
	if !entityType.IsSet() || !unit.IsSet() {
		return Options[types.AggregationFunction]{Placeholder: true}
	}
	values, ok := r.catalog.AggregationFunctions(entityType, unit)
	return resolve(values, ok, r.catalog.Fallbacks().AggregationFunctions, current)
}

// ResolveAggregationWindows returns the windows legal for (entityType, unit).
func (r *Resolver) ResolveAggregationWindows(entityType types.EntityType, unit types.UnitOfMeasure, current types.AggregationWindow) Options[types.AggregationWindow] {
	if !entityType.IsSet() || !unit.IsSet() {
		return Options[types.AggregationWindow]{Placeholder: true}
	}
	values, ok := r.catalog.AggregationWindows(entityType, unit)
	return resolve(values, ok, r.catalog.Fallbacks().AggregationWindows, current)
}

func resolve[T ~string](values []T, ok bool, fallback []T, current T) Options[T] {
	opts := Options[T]{Values: values}
	if !ok || len(values) == 0 {
		opts.Values = fallback
		opts.Fallback = true
	}
	if current != "" && !slices.Contains(opts.Values, current) {
		opts.Values = append([]T{current}, opts.Values...)
		opts.Preserved = true
	}
	return opts
}

// Classification is the cascade-relevant part of a metric.
type Classification struct {
	EntityType types.EntityType
	Unit       types.UnitOfMeasure
	Dimension  types.Dimension
	Function   types.AggregationFunction
	Window     types.AggregationWindow
	Conditions []types.UsageCondition
}

// CascadeEntityType sets the entity type. A change clears the unit and
// every field downstream of it; usage conditions become an empty list.
func (r *Resolver) CascadeEntityType(c Classification, entityType types.EntityType) Classification {
	if c.EntityType == entityType {
		return c
	}
	return Classification{
		EntityType: entityType,
		Conditions: []types.UsageCondition{},
	}
}

// CascadeUnitOfMeasure sets the unit. A change clears dimension, function
// and window, and resets every usage condition whose dimension is not
// legal under the new unit.
func (r *Resolver) CascadeUnitOfMeasure(c Classification, unit types.UnitOfMeasure) Classification {
	if c.Unit == unit {
		return c
	}
	dims := r.ResolveDimensions(c.EntityType, unit, types.DimensionUnset)
	out := Classification{
		EntityType: c.EntityType,
		Unit:       unit,
		Conditions: make([]types.UsageCondition, len(c.Conditions)),
	}
	for i, cond := range c.Conditions {
		if cond.Dimension.IsSet() && !dims.Known(cond.Dimension) {
			cond = types.UsageCondition{}
		}
		out.Conditions[i] = cond
	}
	return out
}
