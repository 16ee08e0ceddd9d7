// internal/rules/coercion.go
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/meterkeeper/internal/types"
)

/*
 * Type coercion for usage matching.
 *
 * Usage condition values are always stored as text; event values are
 * whatever JSON carried. Before comparison both sides are coerced to one
 * of two modes:
 *   - Numeric: strict. float64, int, int64 and numeric strings become
 *     float64; booleans and whitespace-only strings fail.
 *   - Text: lenient. Every type renders to its string form.
 *
 * Null is not a coercion failure: it reports IsNull so the caller can treat
 * the dimension as missing.
 */

// Mode selects the coercion applied before comparison.
type Mode int

const (
	ModeText Mode = iota
	ModeNumeric
)

// ModeFor picks the comparison mode an operator needs.
func ModeFor(op types.Operator) Mode {
	if op.Ordering() {
		return ModeNumeric
	}
	return ModeText
}

// CoercionResult holds the coerced value or indicates null.
type CoercionResult struct {
	Value  any  // coerced value (valid only if !IsNull)
	IsNull bool // true if input was nil/null
}

// Coerce converts value to the comparison mode.
// Returns types.ErrCoercionFailed for impossible coercions.
func Coerce(value any, mode Mode) (CoercionResult, error) {
	if value == nil {
		return CoercionResult{IsNull: true}, nil
	}
	switch mode {
	case ModeNumeric:
		return coerceNumeric(value)
	case ModeText:
		return coerceText(value)
	default:
		return CoercionResult{}, types.ErrCoercionFailed
	}
}

func coerceNumeric(value any) (CoercionResult, error) {
	switch v := value.(type) {
	case float64:
		return CoercionResult{Value: v}, nil
	case int:
		return CoercionResult{Value: float64(v)}, nil
	case int64:
		return CoercionResult{Value: float64(v)}, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return CoercionResult{}, types.ErrCoercionFailed
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return CoercionResult{}, types.ErrCoercionFailed
		}
		return CoercionResult{Value: f}, nil
	default:
		return CoercionResult{}, types.ErrCoercionFailed
	}
}

func coerceText(value any) (CoercionResult, error) {
	switch v := value.(type) {
	case string:
		return CoercionResult{Value: v}, nil
	case float64:
		return CoercionResult{Value: strconv.FormatFloat(v, 'f', -1, 64)}, nil
	case int:
		return CoercionResult{Value: strconv.Itoa(v)}, nil
	case int64:
		return CoercionResult{Value: strconv.FormatInt(v, 10)}, nil
	case bool:
		return CoercionResult{Value: strconv.FormatBool(v)}, nil
	default:
		return CoercionResult{Value: fmt.Sprintf("%v", v)}, nil
	}
}
