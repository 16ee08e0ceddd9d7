package wizard

import (
	"fmt"

	"github.com/solatis/meterkeeper/internal/types"
)

// Step is one page of a wizard: the fields it edits and the fields that
// must be filled in before the user may leave it forward.
type Step struct {
	Name   string
	Fields []types.Field

	// Required returns the step-required fields for the current values.
	Required func(values types.FieldValues) []types.Field
}

func require(fields ...types.Field) func(types.FieldValues) []types.Field {
	return func(types.FieldValues) []types.Field { return fields }
}

// Owns reports whether f is edited on this step.
func (s Step) Owns(f types.Field) bool {
	for _, own := range s.Fields {
		if own == f {
			return true
		}
	}
	return false
}

// MetricSteps is the billable metric wizard.
var MetricSteps = []Step{
	{
		Name:     "details",
		Fields:   []types.Field{types.FieldName, types.FieldDescription, types.FieldProductID},
		Required: require(types.FieldName),
	},
	{
		Name:     "classification",
		Fields:   []types.Field{types.FieldEntityType, types.FieldUnitOfMeasure, types.FieldDimension},
		Required: require(types.FieldEntityType, types.FieldUnitOfMeasure),
	},
	{
		Name:     "conditions",
		Fields:   []types.Field{types.FieldUsageConditions, types.FieldBillingCriteria},
		Required: require(types.FieldBillingCriteria),
	},
	{
		Name:     "aggregation",
		Fields:   []types.Field{types.FieldAggregationFunction, types.FieldAggregationWindow},
		Required: require(types.FieldAggregationFunction, types.FieldAggregationWindow),
	},
	{Name: "review", Required: require()},
}

// CustomerSteps is the customer wizard.
var CustomerSteps = []Step{
	{
		Name:   "account",
		Fields: []types.Field{types.FieldCustomerName, types.FieldCustomerType, types.FieldCompanyName},
		Required: func(v types.FieldValues) []types.Field {
			req := []types.Field{types.FieldCustomerName, types.FieldCustomerType}
			if types.CustomerType(v.Get(types.FieldCustomerType).String()) == types.CustomerTypeBusiness {
				req = append(req, types.FieldCompanyName)
			}
			return req
		},
	},
	{
		Name:     "contact",
		Fields:   []types.Field{types.FieldEmail, types.FieldPhone},
		Required: require(types.FieldEmail),
	},
	{
		Name: "billing",
		Fields: []types.Field{
			types.FieldAddressLine1, types.FieldCity, types.FieldState,
			types.FieldPostalCode, types.FieldCountry, types.FieldTags,
		},
		Required: require(),
	},
	{Name: "review", Required: require()},
}

// StepsFor returns the wizard of kind.
func StepsFor(kind types.Kind) ([]Step, error) {
	switch kind {
	case types.KindMetric:
		return MetricSteps, nil
	case types.KindCustomer:
		return CustomerSteps, nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownKind, kind)
	}
}
