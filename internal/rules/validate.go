// internal/rules/validate.go
package rules

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/solatis/meterkeeper/internal/types"
)

/*
 * Draft and final validation.
 *
 * Draft validation never blocks a save. It reports only stale
 * classification values (present but not catalog members), which cascade
 * reset should have prevented; callers log them.
 *
 * Final validation gates finalize. It checks required fields, the usage
 * condition set, and catalog membership of every classification value.
 * Membership of values kept by the resolver's preserve policy is checked
 * unless Policy.AdmitStaleValues is set. Operator legality for a
 * condition's dimension is always checked.
 */

// Policy tunes final validation.
type Policy struct {
	// AdmitStaleValues accepts stored values absent from the catalog.
	AdmitStaleValues bool
}

const msgRequired = "is required"

// MetricClassification extracts the cascade fields from metric values.
func MetricClassification(values types.FieldValues) Classification {
	return Classification{
		EntityType: types.EntityType(values.Get(types.FieldEntityType).String()),
		Unit:       types.UnitOfMeasure(values.Get(types.FieldUnitOfMeasure).String()),
		Dimension:  types.Dimension(values.Get(types.FieldDimension).String()),
		Function:   types.AggregationFunction(values.Get(types.FieldAggregationFunction).String()),
		Window:     types.AggregationWindow(values.Get(types.FieldAggregationWindow).String()),
		Conditions: values.Get(types.FieldUsageConditions).UsageConditions(),
	}
}

// StaleFields reports classification values that are set but not legal
// under the current upstream selection.
func (r *Resolver) StaleFields(values types.FieldValues) types.FieldErrors {
	c := MetricClassification(values)
	errs := types.FieldErrors{}

	if c.EntityType.IsSet() && !c.EntityType.Valid() {
		errs[types.FieldEntityType] = fmt.Sprintf("%s is not a known entity type", c.EntityType)
	}
	if c.Unit.IsSet() && !r.ResolveUnitsOfMeasure(c.EntityType, c.Unit).Known(c.Unit) {
		errs[types.FieldUnitOfMeasure] = fmt.Sprintf("%s is not legal for entity type %q", c.Unit, c.EntityType)
	}
	if c.Dimension.IsSet() && !r.ResolveDimensions(c.EntityType, c.Unit, c.Dimension).Known(c.Dimension) {
		errs[types.FieldDimension] = fmt.Sprintf("%s is not legal for %s/%s", c.Dimension, c.EntityType, c.Unit)
	}
	if c.Function.IsSet() && !r.ResolveAggregationFunctions(c.EntityType, c.Unit, c.Function).Known(c.Function) {
		errs[types.FieldAggregationFunction] = fmt.Sprintf("%s is not legal for %s/%s", c.Function, c.EntityType, c.Unit)
	}
	if c.Window.IsSet() && !r.ResolveAggregationWindows(c.EntityType, c.Unit, c.Window).Known(c.Window) {
		errs[types.FieldAggregationWindow] = fmt.Sprintf("%s is not legal for %s/%s", c.Window, c.EntityType, c.Unit)
	}
	if msg := r.conditionProblems(c, false, true); msg != "" {
		errs[types.FieldUsageConditions] = msg
	}
	return errs
}

// ValidateMetric runs final validation over metric values.
// Returns *types.ValidationError when any field is invalid.
func (r *Resolver) ValidateMetric(values types.FieldValues, p Policy) error {
	c := MetricClassification(values)
	errs := types.FieldErrors{}

	if strings.TrimSpace(values.Get(types.FieldName).String()) == "" {
		errs[types.FieldName] = msgRequired
	}

	switch {
	case !c.EntityType.IsSet():
		errs[types.FieldEntityType] = msgRequired
	case !c.EntityType.Valid():
		errs[types.FieldEntityType] = fmt.Sprintf("%s is not a known entity type", c.EntityType)
	}

	stale := types.FieldErrors{}
	if !p.AdmitStaleValues {
		stale = r.StaleFields(values)
		delete(stale, types.FieldUsageConditions)
	}
	required := []struct {
		field types.Field
		set   bool
	}{
		{types.FieldUnitOfMeasure, c.Unit.IsSet()},
		{types.FieldAggregationFunction, c.Function.IsSet()},
		{types.FieldAggregationWindow, c.Window.IsSet()},
	}
	for _, req := range required {
		if !req.set {
			errs[req.field] = msgRequired
		} else if msg, ok := stale[req.field]; ok {
			errs[req.field] = msg
		}
	}
	if msg, ok := stale[types.FieldDimension]; ok {
		errs[types.FieldDimension] = msg
	}

	criteria := types.BillingCriteria(values.Get(types.FieldBillingCriteria).String())
	switch {
	case !criteria.IsSet():
		errs[types.FieldBillingCriteria] = msgRequired
	case !criteria.Valid():
		errs[types.FieldBillingCriteria] = fmt.Sprintf("%s is not INCLUDE or EXCLUDE", criteria)
	}

	if msg := r.conditionProblems(c, true, !p.AdmitStaleValues); msg != "" {
		errs[types.FieldUsageConditions] = msg
	}

	if len(errs) > 0 {
		return &types.ValidationError{Errors: errs}
	}
	return nil
}

// conditionProblems describes every defective usage condition, "" if none.
// requireComplete flags partially filled rows; checkDimension flags rows
// whose dimension is not legal for the classification.
func (r *Resolver) conditionProblems(c Classification, requireComplete, checkDimension bool) string {
	var problems []string
	dims := r.ResolveDimensions(c.EntityType, c.Unit, types.DimensionUnset)
	for i, cond := range c.Conditions {
		n := i + 1
		if requireComplete && !cond.Complete() {
			problems = append(problems, fmt.Sprintf("condition %d is incomplete", n))
			continue
		}
		if !cond.Dimension.IsSet() {
			continue
		}
		if checkDimension && !dims.Known(cond.Dimension) {
			problems = append(problems, fmt.Sprintf("condition %d: dimension %s is not legal for %s/%s", n, cond.Dimension, c.EntityType, c.Unit))
			continue
		}
		if cond.Operator.IsSet() && !r.ResolveOperators(cond.Dimension, types.OperatorUnset).Known(cond.Operator) {
			problems = append(problems, fmt.Sprintf("condition %d: operator %s is not legal for %s", n, cond.Operator, cond.Dimension))
			continue
		}
		if requireComplete && cond.Operator.Ordering() {
			if _, err := coerceNumeric(cond.Value); err != nil {
				problems = append(problems, fmt.Sprintf("condition %d: %s needs a numeric value", n, cond.Operator))
			}
		}
	}
	return strings.Join(problems, "; ")
}

// ValidateCustomer runs final validation over customer values.
func ValidateCustomer(values types.FieldValues) error {
	errs := types.FieldErrors{}

	if strings.TrimSpace(values.Get(types.FieldCustomerName).String()) == "" {
		errs[types.FieldCustomerName] = msgRequired
	}

	email := strings.TrimSpace(values.Get(types.FieldEmail).String())
	if email == "" {
		errs[types.FieldEmail] = msgRequired
	} else if !ValidEmail(email) {
		errs[types.FieldEmail] = "is not a valid email address"
	}

	ct := types.CustomerType(values.Get(types.FieldCustomerType).String())
	switch {
	case ct == types.CustomerTypeUnset:
		errs[types.FieldCustomerType] = msgRequired
	case !ct.Valid():
		errs[types.FieldCustomerType] = fmt.Sprintf("%s is not INDIVIDUAL or BUSINESS", ct)
	case ct == types.CustomerTypeBusiness:
		if strings.TrimSpace(values.Get(types.FieldCompanyName).String()) == "" {
			errs[types.FieldCompanyName] = "is required for business customers"
		}
	}

	if len(errs) > 0 {
		return &types.ValidationError{Errors: errs}
	}
	return nil
}

// ValidEmail accepts a bare address with a dotted domain.
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}
