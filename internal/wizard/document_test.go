package wizard

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/solatis/meterkeeper/internal/draft"
	"github.com/solatis/meterkeeper/internal/types"
)

const metricYAML = `
kind: metric
finalize: true
fields:
  name: Card payments
  description: null
  entity_type: API
  unit_of_measure: TRANSACTION
  usage_conditions:
    - {dimension: AMOUNT, operator: ">=", value: "100"}
  billing_criteria: INCLUDE
  aggregation_function: SUM
  aggregation_window: MONTHLY
---
kind: customer
fields:
  customer_name: Ada
  customer_type: INDIVIDUAL
  email: ada@engines.io
  tags: [beta, eu]
`

func TestReadDocuments(t *testing.T) {
	docs, err := ReadDocuments(strings.NewReader(metricYAML))
	if err != nil {
		t.Fatalf("ReadDocuments() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}

	m := docs[0]
	if m.Kind != types.KindMetric || !m.Finalize || m.ID != "" {
		t.Errorf("metric header = %+v", m)
	}
	if desc, ok := m.Fields[types.FieldDescription]; !ok || !desc.IsEmpty() {
		t.Errorf("description = %v, %v; want explicit clear", desc, ok)
	}
	conds := m.Fields.Get(types.FieldUsageConditions).UsageConditions()
	if len(conds) != 1 || conds[0].Dimension != "AMOUNT" || conds[0].Operator != ">=" || conds[0].Value != "100" {
		t.Errorf("usage_conditions = %+v", conds)
	}

	c := docs[1]
	if c.Kind != types.KindCustomer || c.Finalize {
		t.Errorf("customer header = %+v", c)
	}
	if tags := c.Fields.Get(types.FieldTags).Strings(); len(tags) != 2 || tags[1] != "eu" {
		t.Errorf("tags = %v", tags)
	}
}

func TestReadDocuments_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{name: "unknown kind", in: "kind: invoice\n", want: types.ErrUnknownKind},
		{name: "unknown field", in: "kind: metric\nfields:\n  colour: red\n", want: types.ErrUnknownField},
		{name: "customer field on metric", in: "kind: metric\nfields:\n  email: a@b.c\n", want: types.ErrUnknownField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadDocuments(strings.NewReader(tt.in))
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadDocuments() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := ReadDocuments(strings.NewReader("kind: metric\nfields:\n  name: {a: b}\n")); err == nil {
		t.Error("ReadDocuments() accepted a mapping for a text field")
	}
}

func TestPlay_Finalizes(t *testing.T) {
	docs, err := ReadDocuments(strings.NewReader(metricYAML))
	if err != nil {
		t.Fatal(err)
	}
	b := newMemBackend()
	c := newMetricWizard(t, b)

	if err := c.Play(context.Background(), docs[0]); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if !c.AtReview() || c.Manager().Status() != types.StatusActive {
		t.Errorf("after Play: step=%s status=%s", c.Step().Name, c.Manager().Status())
	}
	if b.count("create") != 1 || b.count("finalize") != 1 {
		t.Errorf("ops = %v", b.ops)
	}
	rec := b.records[c.Manager().ID()]
	if rec.Values.Get(types.FieldAggregationFunction).String() != "SUM" {
		t.Errorf("stored values = %v", rec.Values)
	}
}

func TestPlay_StopsOnMissingField(t *testing.T) {
	doc := Document{
		Kind: types.KindMetric,
		Fields: types.FieldValues{
			types.FieldName:       types.Text("Card payments"),
			types.FieldEntityType: types.Text("API"),
		},
	}
	c := newMetricWizard(t, newMemBackend())

	err := c.Play(context.Background(), doc)
	var ve *types.ValidationError
	if !errors.As(err, &ve) || ve.Errors[types.FieldUnitOfMeasure] != msgRequired {
		t.Fatalf("Play() error = %v, want unit_of_measure required", err)
	}
	if !strings.HasPrefix(err.Error(), "step classification:") {
		t.Errorf("error %q does not name the step", err)
	}
	if c.Step().Name != "classification" {
		t.Errorf("step = %s", c.Step().Name)
	}
}

func TestPlay_KindMismatch(t *testing.T) {
	b := newMemBackend()
	mgr := draft.NewManager(b, draft.NewCustomerForm(), draft.Config{})
	if err := mgr.Initialize(nil); err != nil {
		t.Fatal(err)
	}
	c, err := New(mgr, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Play(context.Background(), Document{Kind: types.KindMetric}); !errors.Is(err, types.ErrUnknownKind) {
		t.Errorf("Play() error = %v", err)
	}
}
