package types

import (
	"encoding/json"
	"fmt"
)

// Metric fields.
const (
	FieldName                Field = "name"
	FieldDescription         Field = "description"
	FieldProductID           Field = "product_id"
	FieldEntityType          Field = "entity_type"
	FieldUnitOfMeasure       Field = "unit_of_measure"
	FieldDimension           Field = "dimension"
	FieldAggregationFunction Field = "aggregation_function"
	FieldAggregationWindow   Field = "aggregation_window"
	FieldUsageConditions     Field = "usage_conditions"
	FieldBillingCriteria     Field = "billing_criteria"
)

// Customer fields.
const (
	FieldCustomerName Field = "customer_name"
	FieldCompanyName  Field = "company_name"
	FieldCustomerType Field = "customer_type"
	FieldEmail        Field = "email"
	FieldPhone        Field = "phone"
	FieldAddressLine1 Field = "address_line1"
	FieldCity         Field = "city"
	FieldState        Field = "state"
	FieldPostalCode   Field = "postal_code"
	FieldCountry      Field = "country"
	FieldTags         Field = "tags"
)

// Schema is the closed field set of one entity kind.
type Schema struct {
	Kind   Kind
	fields map[Field]ValueKind
	order  []Field
}

type fieldSpec struct {
	field Field
	kind  ValueKind
}

func text(f Field) fieldSpec       { return fieldSpec{f, KindText} }
func list(f Field) fieldSpec       { return fieldSpec{f, KindList} }
func conditions(f Field) fieldSpec { return fieldSpec{f, KindConditions} }

func newSchema(kind Kind, specs ...fieldSpec) *Schema {
	s := &Schema{Kind: kind, fields: make(map[Field]ValueKind, len(specs))}
	for _, spec := range specs {
		s.fields[spec.field] = spec.kind
		s.order = append(s.order, spec.field)
	}
	return s
}

var (
	MetricSchema = newSchema(KindMetric,
		text(FieldName),
		text(FieldDescription),
		text(FieldProductID),
		text(FieldEntityType),
		text(FieldUnitOfMeasure),
		text(FieldDimension),
		text(FieldAggregationFunction),
		text(FieldAggregationWindow),
		conditions(FieldUsageConditions),
		text(FieldBillingCriteria),
	)

	CustomerSchema = newSchema(KindCustomer,
		text(FieldCustomerName),
		text(FieldCompanyName),
		text(FieldCustomerType),
		text(FieldEmail),
		text(FieldPhone),
		text(FieldAddressLine1),
		text(FieldCity),
		text(FieldState),
		text(FieldPostalCode),
		text(FieldCountry),
		list(FieldTags),
	)
)

// SchemaFor returns the schema of kind.
func SchemaFor(kind Kind) (*Schema, error) {
	switch kind {
	case KindMetric:
		return MetricSchema, nil
	case KindCustomer:
		return CustomerSchema, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Fields returns the legal keys in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.order))
	copy(out, s.order)
	return out
}

// ValueKind returns the variant a field carries.
func (s *Schema) ValueKind(f Field) (ValueKind, bool) {
	k, ok := s.fields[f]
	return k, ok
}

// Check verifies that v has the variant f expects.
func (s *Schema) Check(f Field, v Value) error {
	want, ok := s.fields[f]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, s.Kind, f)
	}
	if v.Kind() == KindUnset {
		if want == KindText {
			return nil
		}
		return fmt.Errorf("%w: %s.%s is a collection, send an empty list to clear it", ErrFieldKind, s.Kind, f)
	}
	if v.Kind() != want {
		return fmt.Errorf("%w: %s.%s wants %s, got %s", ErrFieldKind, s.Kind, f, want, v.Kind())
	}
	return nil
}

// Decode parses a JSON object of field values. Unknown keys are rejected.
func (s *Schema) Decode(data []byte) (FieldValues, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s fields: %w", s.Kind, err)
	}
	out := make(FieldValues, len(raw))
	for key, msg := range raw {
		f := Field(key)
		kind, ok := s.fields[f]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, s.Kind, key)
		}
		v, err := decodeValue(kind, msg)
		if err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", s.Kind, key, err)
		}
		out[f] = v
	}
	return out, nil
}

// DecodeChangeSet parses a partial-update body.
func (s *Schema) DecodeChangeSet(data []byte) (ChangeSet, error) {
	fv, err := s.Decode(data)
	if err != nil {
		return nil, err
	}
	return ChangeSet(fv), nil
}

// Apply merges cs into base: cleared fields are removed, others replaced.
func Apply(base FieldValues, cs ChangeSet) FieldValues {
	out := base.Clone()
	for f, v := range cs {
		if v.IsEmpty() {
			delete(out, f)
			continue
		}
		out[f] = v
	}
	return out
}
