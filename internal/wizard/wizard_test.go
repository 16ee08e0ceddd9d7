package wizard

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/solatis/meterkeeper/internal/draft"
	"github.com/solatis/meterkeeper/internal/rules"
	"github.com/solatis/meterkeeper/internal/types"
)

type memBackend struct {
	mu      sync.Mutex
	ops     []string
	records map[types.EntityID]types.Record
}

func newMemBackend() *memBackend {
	return &memBackend{records: map[types.EntityID]types.Record{}}
}

func (b *memBackend) log(op string) {
	b.mu.Lock()
	b.ops = append(b.ops, op)
	b.mu.Unlock()
}

func (b *memBackend) Create(ctx context.Context, kind types.Kind, payload types.ChangeSet) (*types.Record, error) {
	b.log("create")
	rec := types.Record{ID: types.NewEntityID(), Kind: kind, Status: types.StatusDraft, Values: types.Apply(nil, payload)}
	b.mu.Lock()
	b.records[rec.ID] = rec
	b.mu.Unlock()
	return &rec, nil
}

func (b *memBackend) Update(ctx context.Context, kind types.Kind, id types.EntityID, cs types.ChangeSet) (*types.Record, error) {
	b.log("update")
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.records[id]
	rec.Values = types.Apply(rec.Values, cs)
	b.records[id] = rec
	return &rec, nil
}

func (b *memBackend) Finalize(ctx context.Context, kind types.Kind, id types.EntityID) (*types.Record, error) {
	b.log("finalize")
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.records[id]
	rec.Status = types.StatusActive
	b.records[id] = rec
	return &rec, nil
}

func (b *memBackend) Delete(ctx context.Context, kind types.Kind, id types.EntityID) error {
	b.log("delete")
	b.mu.Lock()
	delete(b.records, id)
	b.mu.Unlock()
	return nil
}

func (b *memBackend) List(ctx context.Context, kind types.Kind) ([]types.Record, error) {
	b.log("list")
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Record
	for _, r := range b.records {
		out = append(out, r)
	}
	return out, nil
}

func (b *memBackend) count(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, o := range b.ops {
		if o == op {
			n++
		}
	}
	return n
}

func newMetricWizard(t *testing.T, b *memBackend) *Controller {
	t.Helper()
	mgr := draft.NewManager(b, draft.NewMetricForm(nil, rules.Policy{}), draft.Config{})
	if err := mgr.Initialize(nil); err != nil {
		t.Fatal(err)
	}
	c, err := New(mgr, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func set(t *testing.T, c *Controller, f types.Field, v string) {
	t.Helper()
	if err := c.Manager().SetField(f, types.Text(v)); err != nil {
		t.Fatalf("SetField(%s, %q) error = %v", f, v, err)
	}
}

func next(t *testing.T, c *Controller, want string) {
	t.Helper()
	if err := c.Next(context.Background()); err != nil {
		t.Fatalf("Next() from %s error = %v", c.Step().Name, err)
	}
	if c.Step().Name != want {
		t.Fatalf("step = %s, want %s", c.Step().Name, want)
	}
}

func TestMetricWizard_HappyPath(t *testing.T) {
	b := newMemBackend()
	c := newMetricWizard(t, b)

	set(t, c, types.FieldName, "Card payments")
	next(t, c, "classification")
	if c.Manager().Status() != types.StatusDraft || b.count("create") != 1 {
		t.Fatalf("first Next() did not create the draft: %s", c.Manager().Status())
	}

	set(t, c, types.FieldEntityType, "API")
	set(t, c, types.FieldUnitOfMeasure, "TRANSACTION")
	next(t, c, "conditions")

	err := c.Manager().EditConditions(func(e *rules.ConditionEditor) error {
		i := e.AddCondition()
		if err := e.UpdateCondition(i, types.ConditionFieldDimension, "AMOUNT"); err != nil {
			return err
		}
		if err := e.UpdateCondition(i, types.ConditionFieldOperator, ">="); err != nil {
			return err
		}
		if err := e.UpdateCondition(i, types.ConditionFieldValue, "100"); err != nil {
			return err
		}
		return e.SetCriteria(types.BillingCriteriaInclude)
	})
	if err != nil {
		t.Fatal(err)
	}
	next(t, c, "aggregation")

	set(t, c, types.FieldAggregationFunction, "SUM")
	set(t, c, types.FieldAggregationWindow, "MONTHLY")
	next(t, c, "review")

	if err := c.Next(context.Background()); !errors.Is(err, ErrLastStep) {
		t.Errorf("Next() on review error = %v, want ErrLastStep", err)
	}
	if err := c.Finish(context.Background()); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if c.Manager().Status() != types.StatusActive || b.count("finalize") != 1 {
		t.Errorf("after Finish: status=%s finalize calls=%d", c.Manager().Status(), b.count("finalize"))
	}
}

func TestWizard_NextRequiresStepFields(t *testing.T) {
	b := newMemBackend()
	c := newMetricWizard(t, b)

	err := c.Next(context.Background())
	var ve *types.ValidationError
	if !errors.As(err, &ve) || ve.Errors[types.FieldName] != msgRequired {
		t.Fatalf("Next() error = %v, want name required", err)
	}
	if c.Step().Name != "details" || len(b.ops) != 0 {
		t.Errorf("step=%s ops=%v, want details and no requests", c.Step().Name, b.ops)
	}
}

func TestWizard_BackAndGoTo(t *testing.T) {
	c := newMetricWizard(t, newMemBackend())
	if c.Back() {
		t.Error("Back() on first step reported true")
	}
	set(t, c, types.FieldName, "x")
	next(t, c, "classification")
	if !c.Back() || c.Step().Name != "details" {
		t.Errorf("Back() landed on %s", c.Step().Name)
	}
	if err := c.GoTo("aggregation"); err == nil {
		t.Error("GoTo() an unreached step succeeded")
	}
	if err := c.GoTo("nowhere"); err == nil {
		t.Error("GoTo() an unknown step succeeded")
	}
	if err := c.Finish(context.Background()); !errors.Is(err, ErrNotAtReview) {
		t.Errorf("Finish() before review error = %v", err)
	}
}

func TestWizard_FinishReturnsToFailingStep(t *testing.T) {
	c := newMetricWizard(t, newMemBackend())
	set(t, c, types.FieldName, "x")
	next(t, c, "classification")
	set(t, c, types.FieldEntityType, "API")
	set(t, c, types.FieldUnitOfMeasure, "HIT")
	next(t, c, "conditions")
	set(t, c, types.FieldBillingCriteria, "EXCLUDE")
	next(t, c, "aggregation")
	set(t, c, types.FieldAggregationFunction, "COUNT")
	set(t, c, types.FieldAggregationWindow, "DAILY")
	next(t, c, "review")

	// clearing the name behind the wizard's back fails finalize locally
	set(t, c, types.FieldName, "")
	err := c.Finish(context.Background())
	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("Finish() error = %v, want ErrValidation", err)
	}
	if c.Step().Name != "details" {
		t.Errorf("step = %s, want details", c.Step().Name)
	}
}

func TestWizard_Abandon(t *testing.T) {
	b := newMemBackend()
	c := newMetricWizard(t, b)
	set(t, c, types.FieldName, "x")
	next(t, c, "classification")
	if err := c.Abandon(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Manager().Status() != types.StatusDeleted || b.count("delete") != 1 || c.Index() != 0 {
		t.Errorf("after Abandon: status=%s deletes=%d index=%d", c.Manager().Status(), b.count("delete"), c.Index())
	}
}

func TestWizard_Options(t *testing.T) {
	c := newMetricWizard(t, newMemBackend())

	units, err := c.Options(types.FieldUnitOfMeasure)
	if err != nil || !units.Placeholder {
		t.Fatalf("Options(unit) before entity type = %+v, %v", units, err)
	}

	set(t, c, types.FieldEntityType, "FLAT_FILE")
	set(t, c, types.FieldUnitOfMeasure, "MB")
	err = c.Manager().EditConditions(func(e *rules.ConditionEditor) error {
		i := e.AddCondition()
		return e.UpdateCondition(i, types.ConditionFieldDimension, "FILE_SIZE")
	})
	if err != nil {
		t.Fatal(err)
	}

	dims, ops, err := c.ConditionOptions(0)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(dims.Values, []string{"FILE_TYPE", "FILE_SIZE"}) {
		t.Errorf("dimensions = %v", dims.Values)
	}
	if !slices.Equal(ops.Values, []string{">", "<", ">=", "<="}) {
		t.Errorf("operators = %v", ops.Values)
	}
	if _, _, err := c.ConditionOptions(3); !errors.Is(err, types.ErrConditionIndex) {
		t.Errorf("ConditionOptions(3) error = %v", err)
	}
}

func TestCustomerWizard_BusinessNeedsCompany(t *testing.T) {
	b := newMemBackend()
	mgr := draft.NewManager(b, draft.NewCustomerForm(), draft.Config{})
	if err := mgr.Initialize(nil); err != nil {
		t.Fatal(err)
	}
	c, err := New(mgr, nil)
	if err != nil {
		t.Fatal(err)
	}

	set(t, c, types.FieldCustomerName, "Ada")
	set(t, c, types.FieldCustomerType, "BUSINESS")
	err = c.Next(context.Background())
	var ve *types.ValidationError
	if !errors.As(err, &ve) || ve.Errors[types.FieldCompanyName] != msgRequired {
		t.Fatalf("Next() error = %v, want company_name required", err)
	}

	set(t, c, types.FieldCompanyName, "Analytical Engines")
	next(t, c, "contact")
	set(t, c, types.FieldEmail, "ada@engines.io")
	next(t, c, "billing")
	next(t, c, "review")
	if err := c.Finish(context.Background()); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
}

func TestStepsFor(t *testing.T) {
	if _, err := StepsFor("invoice"); !errors.Is(err, types.ErrUnknownKind) {
		t.Errorf("StepsFor(invoice) error = %v", err)
	}
	// every schema field belongs to exactly one step
	for kind, schema := range map[types.Kind]*types.Schema{types.KindMetric: types.MetricSchema, types.KindCustomer: types.CustomerSchema} {
		steps, _ := StepsFor(kind)
		for _, f := range schema.Fields() {
			owners := 0
			for _, s := range steps {
				if s.Owns(f) {
					owners++
				}
			}
			if owners != 1 {
				t.Errorf("%s.%s is on %d steps", kind, f, owners)
			}
		}
	}
}
