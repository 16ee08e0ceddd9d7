// internal/rules/conditions.go
package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/solatis/meterkeeper/internal/types"
)

/*
 * Usage condition editing.
 *
 * ConditionEditor holds the repeatable {dimension, operator, value} list and
 * the billing criteria for one metric. Positions are display-only; the
 * conditions combine with AND.
 *
 * A dimension change on a row resets that row's operator and value: an
 * operator carried over from another dimension is invalid by construction.
 * Values entered before the change are discarded, not migrated.
 *
 * Between edits a row may be partially filled. Commit returns the
 * normalized list: values trimmed and any operator outside its dimension's
 * legal set cleared, so the committed list never references an illegal
 * operator.
 */

// ConditionEditor edits one metric's usage conditions.
type ConditionEditor struct {
	resolver   *Resolver
	conditions []types.UsageCondition
	criteria   types.BillingCriteria
}

// NewConditionEditor starts an editor over a copy of conditions.
func NewConditionEditor(r *Resolver, conditions []types.UsageCondition, criteria types.BillingCriteria) *ConditionEditor {
	return &ConditionEditor{
		resolver:   r,
		conditions: slices.Clone(conditions),
		criteria:   criteria,
	}
}

// Len returns the number of rows.
func (e *ConditionEditor) Len() int { return len(e.conditions) }

// Conditions returns a copy of the uncommitted rows.
func (e *ConditionEditor) Conditions() []types.UsageCondition {
	return slices.Clone(e.conditions)
}

// Criteria returns the billing criteria.
func (e *ConditionEditor) Criteria() types.BillingCriteria { return e.criteria }

// AddCondition appends an empty row and returns its index.
func (e *ConditionEditor) AddCondition() int {
	e.conditions = append(e.conditions, types.UsageCondition{})
	return len(e.conditions) - 1
}

// RemoveCondition deletes the row at index.
func (e *ConditionEditor) RemoveCondition(index int) error {
	if err := e.checkIndex(index); err != nil {
		return err
	}
	e.conditions = slices.Delete(e.conditions, index, index+1)
	return nil
}

// ClearConditions removes every row.
func (e *ConditionEditor) ClearConditions() {
	e.conditions = e.conditions[:0]
}

// UpdateCondition sets one part of the row at index.
func (e *ConditionEditor) UpdateCondition(index int, field types.ConditionField, value string) error {
	if err := e.checkIndex(index); err != nil {
		return err
	}
	cond := &e.conditions[index]
	switch field {
	case types.ConditionFieldDimension:
		dim := types.Dimension(strings.TrimSpace(value))
		if dim != cond.Dimension {
			*cond = types.UsageCondition{Dimension: dim}
		}
	case types.ConditionFieldOperator:
		cond.Operator = types.Operator(strings.TrimSpace(value))
	case types.ConditionFieldValue:
		cond.Value = value
	default:
		return fmt.Errorf("%w: usage condition part %q", types.ErrUnknownField, field)
	}
	return nil
}

// SetCriteria sets INCLUDE or EXCLUDE; empty clears it.
func (e *ConditionEditor) SetCriteria(criteria types.BillingCriteria) error {
	if criteria.IsSet() && !criteria.Valid() {
		return fmt.Errorf("%w: billing criteria %q", types.ErrFieldKind, criteria)
	}
	e.criteria = criteria
	return nil
}

// DimensionOptions resolves the dimension choices for the row at index.
func (e *ConditionEditor) DimensionOptions(entityType types.EntityType, unit types.UnitOfMeasure, index int) (Options[types.Dimension], error) {
	if err := e.checkIndex(index); err != nil {
		return Options[types.Dimension]{}, err
	}
	return e.resolver.ResolveDimensions(entityType, unit, e.conditions[index].Dimension), nil
}

// OperatorOptions resolves the operator choices for the row at index.
// The row's operator is not preserved: a stale operator is not an option.
func (e *ConditionEditor) OperatorOptions(index int) (Options[types.Operator], error) {
	if err := e.checkIndex(index); err != nil {
		return Options[types.Operator]{}, err
	}
	return e.resolver.ResolveOperators(e.conditions[index].Dimension, types.OperatorUnset), nil
}

// Commit returns the normalized rows and criteria.
func (e *ConditionEditor) Commit() ([]types.UsageCondition, types.BillingCriteria) {
	out := make([]types.UsageCondition, len(e.conditions))
	for i, cond := range e.conditions {
		cond.Value = strings.TrimSpace(cond.Value)
		if cond.Operator.IsSet() && !e.resolver.ResolveOperators(cond.Dimension, types.OperatorUnset).Known(cond.Operator) {
			cond.Operator = types.OperatorUnset
		}
		out[i] = cond
	}
	e.conditions = slices.Clone(out)
	return out, e.criteria
}

func (e *ConditionEditor) checkIndex(index int) error {
	if index < 0 || index >= len(e.conditions) {
		return fmt.Errorf("%w: %d (have %d)", types.ErrConditionIndex, index, len(e.conditions))
	}
	return nil
}
