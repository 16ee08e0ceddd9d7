package draft

import (
	"errors"
	"testing"

	"github.com/solatis/meterkeeper/internal/rules"
	"github.com/solatis/meterkeeper/internal/types"
)

func TestNewForm(t *testing.T) {
	for _, kind := range []types.Kind{types.KindMetric, types.KindCustomer} {
		f, err := NewForm(kind, nil, rules.Policy{})
		if err != nil {
			t.Fatalf("NewForm(%s) error = %v", kind, err)
		}
		if f.Kind() != kind || f.Schema().Kind != kind {
			t.Errorf("NewForm(%s) built a %s form", kind, f.Kind())
		}
	}
	if _, err := NewForm("invoice", nil, rules.Policy{}); !errors.Is(err, types.ErrUnknownKind) {
		t.Errorf("NewForm(invoice) error = %v, want ErrUnknownKind", err)
	}
}

func TestMetricForm_Cascades(t *testing.T) {
	f := NewMetricForm(nil, rules.Policy{})
	f.Load(types.FieldValues{
		types.FieldName:                types.Text("Payments"),
		types.FieldEntityType:          types.Text("API"),
		types.FieldUnitOfMeasure:       types.Text("TRANSACTION"),
		types.FieldDimension:           types.Text("AMOUNT"),
		types.FieldAggregationFunction: types.Text("SUM"),
		types.FieldAggregationWindow:   types.Text("DAILY"),
		types.FieldUsageConditions: types.Conditions([]types.UsageCondition{
			{Dimension: "AMOUNT", Operator: ">", Value: "10"},
		}),
	})

	if err := f.Set(types.FieldUnitOfMeasure, types.Text("API_CALL")); err != nil {
		t.Fatal(err)
	}
	v := f.Values()
	for _, field := range []types.Field{types.FieldDimension, types.FieldAggregationFunction, types.FieldAggregationWindow} {
		if !v.Get(field).IsEmpty() {
			t.Errorf("unit change kept %s = %q", field, v.Get(field).String())
		}
	}
	conds := v.Get(types.FieldUsageConditions).UsageConditions()
	if len(conds) != 1 || conds[0] != (types.UsageCondition{}) {
		t.Errorf("unit change left condition %+v, want reset row", conds)
	}
	if v.Get(types.FieldName).String() != "Payments" {
		t.Error("unit change touched name")
	}

	if err := f.Set(types.FieldEntityType, types.Text("LLM_TOKEN")); err != nil {
		t.Fatal(err)
	}
	v = f.Values()
	if !v.Get(types.FieldUnitOfMeasure).IsEmpty() {
		t.Errorf("entity type change kept unit %q", v.Get(types.FieldUnitOfMeasure).String())
	}
	if got := v.Get(types.FieldUsageConditions); got.Kind() != types.KindConditions || !got.IsEmpty() {
		t.Errorf("entity type change left conditions %v", got.UsageConditions())
	}

	// re-selecting the same entity type keeps the rest
	if err := f.Set(types.FieldUnitOfMeasure, types.Text("TOKEN")); err != nil {
		t.Fatal(err)
	}
	if err := f.Set(types.FieldEntityType, types.Text("LLM_TOKEN")); err != nil {
		t.Fatal(err)
	}
	if f.Values().Get(types.FieldUnitOfMeasure).String() != "TOKEN" {
		t.Error("same entity type cleared the unit")
	}
}

func TestMetricForm_SetErrors(t *testing.T) {
	tests := []struct {
		name  string
		field types.Field
		value types.Value
		want  error
	}{
		{name: "unknown field", field: "color", value: types.Text("red"), want: types.ErrUnknownField},
		{name: "customer field", field: types.FieldEmail, value: types.Text("a@x.com"), want: types.ErrUnknownField},
		{name: "text into conditions", field: types.FieldUsageConditions, value: types.Text("x"), want: types.ErrFieldKind},
		{name: "unset conditions", field: types.FieldUsageConditions, value: types.Unset(), want: types.ErrFieldKind},
		{name: "bad criteria", field: types.FieldBillingCriteria, value: types.Text("MAYBE"), want: types.ErrFieldKind},
		{name: "bad entity type", field: types.FieldEntityType, value: types.Text("FAX"), want: types.ErrUnknownEntityType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewMetricForm(nil, rules.Policy{})
			if err := f.Set(tt.field, tt.value); !errors.Is(err, tt.want) {
				t.Errorf("Set() error = %v, want %v", err, tt.want)
			}
			if len(f.Values()) != 0 {
				t.Errorf("failed Set() changed values: %v", f.Values())
			}
		})
	}
}

func TestMetricForm_SetConditionsNormalizes(t *testing.T) {
	f := NewMetricForm(nil, rules.Policy{})
	f.Load(types.FieldValues{
		types.FieldEntityType:    types.Text("API"),
		types.FieldUnitOfMeasure: types.Text("TRANSACTION"),
	})
	err := f.Set(types.FieldUsageConditions, types.Conditions([]types.UsageCondition{
		{Dimension: "AMOUNT", Operator: "contains", Value: "  5  "},
	}))
	if err != nil {
		t.Fatal(err)
	}
	conds := f.Values().Get(types.FieldUsageConditions).UsageConditions()
	want := types.UsageCondition{Dimension: "AMOUNT", Value: "5"}
	if len(conds) != 1 || conds[0] != want {
		t.Errorf("conditions = %+v, want %+v", conds, want)
	}
}

func TestMetricForm_LoadInference(t *testing.T) {
	tests := []struct {
		name     string
		values   types.FieldValues
		wantType string
		wantUnit string
	}{
		{
			name:     "entity type from unit",
			values:   types.FieldValues{types.FieldUnitOfMeasure: types.Text("TOKEN")},
			wantType: "LLM_TOKEN",
			wantUnit: "TOKEN",
		},
		{
			name:     "pair from dimension",
			values:   types.FieldValues{types.FieldDimension: types.Text("PAYMENT_METHOD")},
			wantType: "API",
			wantUnit: "TRANSACTION",
		},
		{
			name:   "nothing to infer from",
			values: types.FieldValues{types.FieldName: types.Text("x")},
		},
		{
			name: "stored entity type is kept",
			values: types.FieldValues{
				types.FieldEntityType:    types.Text("SQL_RESULT"),
				types.FieldUnitOfMeasure: types.Text("TOKEN"),
			},
			wantType: "SQL_RESULT",
			wantUnit: "TOKEN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewMetricForm(nil, rules.Policy{})
			f.Load(tt.values)
			v := f.Values()
			if got := v.Get(types.FieldEntityType).String(); got != tt.wantType {
				t.Errorf("entity_type = %q, want %q", got, tt.wantType)
			}
			if got := v.Get(types.FieldUnitOfMeasure).String(); got != tt.wantUnit {
				t.Errorf("unit_of_measure = %q, want %q", got, tt.wantUnit)
			}
		})
	}
}

func TestCustomerForm_Set(t *testing.T) {
	f := NewCustomerForm()
	if err := f.Set(types.FieldEmail, types.Text("  ops@acme.io ")); err != nil {
		t.Fatal(err)
	}
	if err := f.Set(types.FieldCustomerType, types.Text("business")); err != nil {
		t.Fatal(err)
	}
	if err := f.Set(types.FieldTags, types.List([]string{" gold ", "", "eu"})); err != nil {
		t.Fatal(err)
	}
	v := f.Values()
	if v.Get(types.FieldEmail).String() != "ops@acme.io" {
		t.Errorf("email = %q", v.Get(types.FieldEmail).String())
	}
	if v.Get(types.FieldCustomerType).String() != "BUSINESS" {
		t.Errorf("customer_type = %q", v.Get(types.FieldCustomerType).String())
	}
	if tags := v.Get(types.FieldTags).Strings(); len(tags) != 2 || tags[0] != "gold" || tags[1] != "eu" {
		t.Errorf("tags = %v", tags)
	}

	if err := f.Set(types.FieldCustomerType, types.Text("robot")); !errors.Is(err, types.ErrFieldKind) {
		t.Errorf("Set(customer_type=robot) error = %v", err)
	}
	if err := f.Set(types.FieldName, types.Text("x")); !errors.Is(err, types.ErrUnknownField) {
		t.Errorf("Set(metric field) error = %v", err)
	}

	err := f.ValidateFinal()
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("ValidateFinal() error = %v, want ValidationError", err)
	}
	for _, field := range []types.Field{types.FieldCustomerName, types.FieldCompanyName} {
		if _, ok := ve.Errors[field]; !ok {
			t.Errorf("ValidateFinal() missing %s error: %v", field, ve.Errors)
		}
	}
}
