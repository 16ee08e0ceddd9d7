// internal/rules/operators.go
package rules

import (
	"strings"

	"github.com/solatis/meterkeeper/internal/types"
)

/*
 * Operator comparison logic.
 *
 * Values must already be coerced with the mode ModeFor(op) selects:
 *   - = and !=: numeric equality when both sides parse as numbers,
 *     otherwise exact text equality
 *   - >, <, >=, <=: numeric only; incomparable values never match
 *   - contains, starts_with: text only
 *
 * An operator outside this set never matches.
 */

// Compare applies op to value (from the event) and target (from the condition).
func Compare(op types.Operator, value, target any) bool {
	switch op {
	case types.OperatorEq:
		return compareEqual(value, target)
	case types.OperatorNeq:
		return !compareEqual(value, target)
	case types.OperatorGt:
		c, ok := compareNumeric(value, target)
		return ok && c > 0
	case types.OperatorLt:
		c, ok := compareNumeric(value, target)
		return ok && c < 0
	case types.OperatorGte:
		c, ok := compareNumeric(value, target)
		return ok && c >= 0
	case types.OperatorLte:
		c, ok := compareNumeric(value, target)
		return ok && c <= 0
	case types.OperatorContains:
		vs, ts, ok := asStrings(value, target)
		return ok && strings.Contains(vs, ts)
	case types.OperatorStartsWith:
		vs, ts, ok := asStrings(value, target)
		return ok && strings.HasPrefix(vs, ts)
	default:
		return false
	}
}

// compareEqual treats "10" and "10.0" as equal; everything else compares as text.
func compareEqual(a, b any) bool {
	na, erra := coerceNumeric(a)
	nb, errb := coerceNumeric(b)
	if erra == nil && errb == nil {
		return na.Value == nb.Value
	}
	return a == b
}

// compareNumeric performs three-way numeric comparison (-1/0/1).
func compareNumeric(a, b any) (int, bool) {
	na, oka := a.(float64)
	nb, okb := b.(float64)
	if !oka || !okb {
		return 0, false
	}
	switch {
	case na < nb:
		return -1, true
	case na > nb:
		return 1, true
	default:
		return 0, true
	}
}

func asStrings(a, b any) (string, string, bool) {
	as, oka := a.(string)
	bs, okb := b.(string)
	return as, bs, oka && okb
}
