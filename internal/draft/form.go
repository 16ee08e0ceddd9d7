package draft

import (
	"fmt"
	"strings"

	"github.com/solatis/meterkeeper/internal/rules"
	"github.com/solatis/meterkeeper/internal/types"
)

// Form is the closed field model of one entity kind under edit.
// Implementations apply cascades inside Set; callers never edit values directly.
type Form interface {
	Kind() types.Kind
	Schema() *types.Schema

	// Values returns a copy of the current field values.
	Values() types.FieldValues

	// Load replaces the current values, inferring anything the kind can
	// derive from what is stored.
	Load(values types.FieldValues)

	// Set validates and assigns one field.
	Set(field types.Field, value types.Value) error

	// ValidateDraft reports non-blocking defects for logging.
	ValidateDraft() types.FieldErrors

	// ValidateFinal runs the full-shape validation that gates finalize.
	ValidateFinal() error

	// UniqueFields lists the uniqueness-constrained fields.
	UniqueFields() []types.Field
}

// NewForm returns the form for kind.
func NewForm(kind types.Kind, resolver *rules.Resolver, policy rules.Policy) (Form, error) {
	switch kind {
	case types.KindMetric:
		return NewMetricForm(resolver, policy), nil
	case types.KindCustomer:
		return NewCustomerForm(), nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownKind, kind)
	}
}

// MetricForm edits a billable metric.
type MetricForm struct {
	resolver *rules.Resolver
	policy   rules.Policy
	values   types.FieldValues
}

// NewMetricForm creates an empty metric form.
func NewMetricForm(resolver *rules.Resolver, policy rules.Policy) *MetricForm {
	if resolver == nil {
		resolver = rules.NewResolver(nil)
	}
	return &MetricForm{resolver: resolver, policy: policy, values: types.FieldValues{}}
}

func (f *MetricForm) Kind() types.Kind          { return types.KindMetric }
func (f *MetricForm) Schema() *types.Schema     { return types.MetricSchema }
func (f *MetricForm) Values() types.FieldValues { return f.values.Clone() }
func (f *MetricForm) UniqueFields() []types.Field {
	return []types.Field{types.FieldName}
}

// Resolver returns the resolver backing the form's option sets.
func (f *MetricForm) Resolver() *rules.Resolver { return f.resolver }

// Load seeds the form. A record that lost its entity type is classified
// from its unit; one that lost both is classified from a dimension.
func (f *MetricForm) Load(values types.FieldValues) {
	f.values = values.Clone()
	c := rules.MetricClassification(f.values)
	cat := f.resolver.Catalog()

	if !c.EntityType.IsSet() && c.Unit.IsSet() {
		if et, ok := cat.InferEntityType(c.Unit); ok {
			f.values[types.FieldEntityType] = types.Text(string(et))
		}
		return
	}
	if !c.EntityType.IsSet() && !c.Unit.IsSet() {
		dim := c.Dimension
		for _, cond := range c.Conditions {
			if dim.IsSet() {
				break
			}
			dim = cond.Dimension
		}
		if !dim.IsSet() {
			return
		}
		if pair, ok := cat.InferClassification(dim); ok {
			f.values[types.FieldEntityType] = types.Text(string(pair.EntityType))
			f.values[types.FieldUnitOfMeasure] = types.Text(string(pair.Unit))
		}
	}
}

// Set assigns one metric field. Entity type and unit changes cascade;
// usage conditions are normalized as on commit.
func (f *MetricForm) Set(field types.Field, value types.Value) error {
	if err := types.MetricSchema.Check(field, value); err != nil {
		return err
	}
	switch field {
	case types.FieldEntityType:
		et, err := types.ParseEntityType(value.String())
		if err != nil {
			return err
		}
		f.writeClassification(f.resolver.CascadeEntityType(rules.MetricClassification(f.values), et))
	case types.FieldUnitOfMeasure:
		unit := types.UnitOfMeasure(strings.TrimSpace(value.String()))
		f.writeClassification(f.resolver.CascadeUnitOfMeasure(rules.MetricClassification(f.values), unit))
	case types.FieldUsageConditions:
		editor := f.ConditionEditor()
		editor.ClearConditions()
		for _, cond := range value.UsageConditions() {
			i := editor.AddCondition()
			_ = editor.UpdateCondition(i, types.ConditionFieldDimension, string(cond.Dimension))
			_ = editor.UpdateCondition(i, types.ConditionFieldOperator, string(cond.Operator))
			_ = editor.UpdateCondition(i, types.ConditionFieldValue, cond.Value)
		}
		f.CommitConditions(editor)
	case types.FieldBillingCriteria:
		criteria := types.BillingCriteria(strings.ToUpper(strings.TrimSpace(value.String())))
		if criteria.IsSet() && !criteria.Valid() {
			return fmt.Errorf("%w: billing criteria %q", types.ErrFieldKind, criteria)
		}
		setText(f.values, field, string(criteria))
	default:
		setText(f.values, field, value.String())
	}
	return nil
}

// ConditionEditor opens an editor over the current usage conditions.
func (f *MetricForm) ConditionEditor() *rules.ConditionEditor {
	return rules.NewConditionEditor(f.resolver,
		f.values.Get(types.FieldUsageConditions).UsageConditions(),
		types.BillingCriteria(f.values.Get(types.FieldBillingCriteria).String()))
}

// CommitConditions stores the editor's normalized rows and criteria.
func (f *MetricForm) CommitConditions(e *rules.ConditionEditor) {
	conds, criteria := e.Commit()
	f.values[types.FieldUsageConditions] = types.Conditions(conds)
	setText(f.values, types.FieldBillingCriteria, string(criteria))
}

func (f *MetricForm) writeClassification(c rules.Classification) {
	setText(f.values, types.FieldEntityType, string(c.EntityType))
	setText(f.values, types.FieldUnitOfMeasure, string(c.Unit))
	setText(f.values, types.FieldDimension, string(c.Dimension))
	setText(f.values, types.FieldAggregationFunction, string(c.Function))
	setText(f.values, types.FieldAggregationWindow, string(c.Window))
	f.values[types.FieldUsageConditions] = types.Conditions(c.Conditions)
}

func (f *MetricForm) ValidateDraft() types.FieldErrors {
	return f.resolver.StaleFields(f.values)
}

func (f *MetricForm) ValidateFinal() error {
	return f.resolver.ValidateMetric(f.values, f.policy)
}

// CustomerForm edits a customer record.
type CustomerForm struct {
	values types.FieldValues
}

// NewCustomerForm creates an empty customer form.
func NewCustomerForm() *CustomerForm {
	return &CustomerForm{values: types.FieldValues{}}
}

func (f *CustomerForm) Kind() types.Kind          { return types.KindCustomer }
func (f *CustomerForm) Schema() *types.Schema     { return types.CustomerSchema }
func (f *CustomerForm) Values() types.FieldValues { return f.values.Clone() }
func (f *CustomerForm) UniqueFields() []types.Field {
	return []types.Field{types.FieldEmail}
}

func (f *CustomerForm) Load(values types.FieldValues) {
	f.values = values.Clone()
}

func (f *CustomerForm) Set(field types.Field, value types.Value) error {
	if err := types.CustomerSchema.Check(field, value); err != nil {
		return err
	}
	switch field {
	case types.FieldCustomerType:
		ct := types.CustomerType(strings.ToUpper(strings.TrimSpace(value.String())))
		if ct != types.CustomerTypeUnset && !ct.Valid() {
			return fmt.Errorf("%w: customer type %q", types.ErrFieldKind, ct)
		}
		setText(f.values, field, string(ct))
	case types.FieldEmail:
		setText(f.values, field, strings.TrimSpace(value.String()))
	case types.FieldTags:
		var tags []string
		for _, tag := range value.Strings() {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		f.values[field] = types.List(tags)
	default:
		setText(f.values, field, value.String())
	}
	return nil
}

// ValidateDraft reports nothing: customer fields have no classification to go stale.
func (f *CustomerForm) ValidateDraft() types.FieldErrors { return types.FieldErrors{} }

func (f *CustomerForm) ValidateFinal() error {
	return rules.ValidateCustomer(f.values)
}

func setText(values types.FieldValues, field types.Field, s string) {
	if s == "" {
		delete(values, field)
		return
	}
	values[field] = types.Text(s)
}
