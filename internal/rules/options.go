package rules

import (
	"fmt"

	"github.com/solatis/meterkeeper/internal/types"
)

// OperatorField selects condition operator options in ResolveField. The
// dimension is read from types.FieldDimension.
const OperatorField types.Field = "operator"

// ResolveField resolves the options of one metric field from the values the
// field depends on. The current value is read from values[field].
func (r *Resolver) ResolveField(field types.Field, values types.FieldValues) (Options[string], error) {
	c := MetricClassification(values)
	current := values.Get(field).String()

	switch field {
	case types.FieldEntityType:
		return untyped(r.ResolveEntityTypes(types.EntityType(current))), nil
	case types.FieldUnitOfMeasure:
		return untyped(r.ResolveUnitsOfMeasure(c.EntityType, types.UnitOfMeasure(current))), nil
	case types.FieldDimension:
		return untyped(r.ResolveDimensions(c.EntityType, c.Unit, types.Dimension(current))), nil
	case types.FieldAggregationFunction:
		return untyped(r.ResolveAggregationFunctions(c.EntityType, c.Unit, types.AggregationFunction(current))), nil
	case types.FieldAggregationWindow:
		return untyped(r.ResolveAggregationWindows(c.EntityType, c.Unit, types.AggregationWindow(current))), nil
	case OperatorField:
		return untyped(r.ResolveOperators(c.Dimension, types.Operator(current))), nil
	case types.FieldBillingCriteria:
		opts := Options[string]{Values: []string{string(types.BillingCriteriaInclude), string(types.BillingCriteriaExclude)}}
		if current != "" && !opts.Contains(current) {
			opts.Values = append([]string{current}, opts.Values...)
			opts.Preserved = true
		}
		return opts, nil
	default:
		return Options[string]{}, fmt.Errorf("%w: no options for %q", types.ErrUnknownField, field)
	}
}

func untyped[T ~string](o Options[T]) Options[string] {
	return Options[string]{
		Values:      o.Strings(),
		Placeholder: o.Placeholder,
		Fallback:    o.Fallback,
		Preserved:   o.Preserved,
	}
}
