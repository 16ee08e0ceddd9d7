// internal/rules/evaluate.go
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/solatis/meterkeeper/internal/types"
)

/*
 * Usage event matching.
 *
 * Decides whether one usage event counts toward a metric.
 *
 * Evaluation flow:
 *   1. Decode the event once
 *   2. Per condition: locate the dimension -> coerce both sides -> compare
 *   3. AND all conditions (short-circuit on first non-match)
 *   4. Apply billing criteria: INCLUDE bills matches, EXCLUDE bills
 *      non-matches; a metric without conditions bills every event
 *
 * Dimension lookup tries "dimensions.<name>" then "<name>" with the name
 * lower-cased, then the name as written. A missing or null dimension, or a
 * value that cannot be coerced, does not match.
 */

// ConditionResult records how one condition evaluated.
type ConditionResult struct {
	Index     int                  `json:"index"`
	Condition types.UsageCondition `json:"condition"`
	Found     bool                 `json:"found"`
	Value     any                  `json:"value,omitempty"`
	Matched   bool                 `json:"matched"`
}

// MatchResult is the outcome of evaluating one event.
type MatchResult struct {
	Matched    bool                  `json:"matched"`
	Billable   bool                  `json:"billable"`
	Criteria   types.BillingCriteria `json:"billing_criteria"`
	Conditions []ConditionResult     `json:"conditions"`
}

// Evaluate matches event against the usage conditions in metric values.
func Evaluate(values types.FieldValues, event json.RawMessage) (MatchResult, error) {
	criteria := types.BillingCriteria(values.Get(types.FieldBillingCriteria).String())
	if !criteria.IsSet() {
		criteria = types.BillingCriteriaInclude
	}
	result := MatchResult{Criteria: criteria, Matched: true, Conditions: []ConditionResult{}}

	var doc any
	if err := json.Unmarshal(event, &doc); err != nil {
		return result, fmt.Errorf("decode usage event: %w", err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return result, fmt.Errorf("usage event must be a JSON object")
	}

	conds := values.Get(types.FieldUsageConditions).UsageConditions()
	for i, cond := range conds {
		if !cond.Complete() {
			return result, fmt.Errorf("%w: condition %d is incomplete", types.ErrValidation, i+1)
		}
	}

	for i, cond := range conds {
		cr, err := evaluateCondition(cond, doc)
		if err != nil {
			return result, err
		}
		cr.Index = i
		result.Conditions = append(result.Conditions, cr)
		if !cr.Matched {
			result.Matched = false
			break
		}
	}

	switch {
	case len(conds) == 0:
		result.Billable = true
	case criteria == types.BillingCriteriaExclude:
		result.Billable = !result.Matched
	default:
		result.Billable = result.Matched
	}
	return result, nil
}

func evaluateCondition(cond types.UsageCondition, doc any) (ConditionResult, error) {
	cr := ConditionResult{Condition: cond}

	raw, found, err := lookupDimension(cond.Dimension, doc)
	if err != nil {
		return cr, err
	}
	if !found {
		return cr, nil
	}
	cr.Found = true
	cr.Value = raw

	mode := ModeFor(cond.Operator)
	value, err := Coerce(raw, mode)
	if err != nil || value.IsNull {
		return cr, nil
	}
	target, err := Coerce(cond.Value, mode)
	if err != nil {
		return cr, nil
	}
	cr.Matched = Compare(cond.Operator, value.Value, target.Value)
	return cr, nil
}

func lookupDimension(dim types.Dimension, doc any) (any, bool, error) {
	name := strings.ToLower(string(dim))
	for _, p := range []string{"dimensions." + name, name, string(dim)} {
		path, err := ParsePath(p)
		if err != nil {
			return nil, false, err
		}
		val, err := Lookup(path, doc)
		if errors.Is(err, types.ErrFieldNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return val, true, nil
	}
	return nil, false, nil
}
