package rules

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/meterkeeper/internal/types"
)

func TestConditionEditor_AddRemove(t *testing.T) {
	e := NewConditionEditor(NewResolver(nil), nil, types.BillingCriteriaUnset)

	if i := e.AddCondition(); i != 0 {
		t.Errorf("AddCondition() = %d, want 0", i)
	}
	if i := e.AddCondition(); i != 1 {
		t.Errorf("AddCondition() = %d, want 1", i)
	}
	if err := e.UpdateCondition(1, types.ConditionFieldDimension, "STATUS"); err != nil {
		t.Fatal(err)
	}
	if err := e.RemoveCondition(0); err != nil {
		t.Fatalf("RemoveCondition(0) error = %v", err)
	}
	conds := e.Conditions()
	if len(conds) != 1 || conds[0].Dimension != "STATUS" {
		t.Errorf("Conditions() = %+v, want one STATUS row", conds)
	}

	for _, idx := range []int{-1, 1, 5} {
		if err := e.RemoveCondition(idx); !errors.Is(err, types.ErrConditionIndex) {
			t.Errorf("RemoveCondition(%d) error = %v, want ErrConditionIndex", idx, err)
		}
		if err := e.UpdateCondition(idx, types.ConditionFieldValue, "x"); !errors.Is(err, types.ErrConditionIndex) {
			t.Errorf("UpdateCondition(%d) error = %v, want ErrConditionIndex", idx, err)
		}
	}
}

func TestConditionEditor_DimensionChangeResetsRow(t *testing.T) {
	e := NewConditionEditor(NewResolver(nil), []types.UsageCondition{
		{Dimension: "AMOUNT", Operator: ">", Value: "100"},
	}, types.BillingCriteriaInclude)

	if err := e.UpdateCondition(0, types.ConditionFieldDimension, "AMOUNT"); err != nil {
		t.Fatal(err)
	}
	if got := e.Conditions()[0]; got.Operator != ">" || got.Value != "100" {
		t.Errorf("same dimension reset the row: %+v", got)
	}

	if err := e.UpdateCondition(0, types.ConditionFieldDimension, "CURRENCY"); err != nil {
		t.Fatal(err)
	}
	got := e.Conditions()[0]
	want := types.UsageCondition{Dimension: "CURRENCY"}
	if got != want {
		t.Errorf("after dimension change = %+v, want %+v", got, want)
	}
}

func TestConditionEditor_UnknownPart(t *testing.T) {
	e := NewConditionEditor(NewResolver(nil), []types.UsageCondition{{}}, types.BillingCriteriaUnset)
	if err := e.UpdateCondition(0, "weight", "3"); !errors.Is(err, types.ErrUnknownField) {
		t.Errorf("UpdateCondition(weight) error = %v, want ErrUnknownField", err)
	}
}

func TestConditionEditor_SetCriteria(t *testing.T) {
	e := NewConditionEditor(NewResolver(nil), nil, types.BillingCriteriaUnset)
	if err := e.SetCriteria(types.BillingCriteriaExclude); err != nil {
		t.Fatalf("SetCriteria(EXCLUDE) error = %v", err)
	}
	if err := e.SetCriteria("MAYBE"); err == nil {
		t.Error("SetCriteria(MAYBE) error = nil")
	}
	if e.Criteria() != types.BillingCriteriaExclude {
		t.Errorf("Criteria() = %s, want EXCLUDE", e.Criteria())
	}
	if err := e.SetCriteria(types.BillingCriteriaUnset); err != nil {
		t.Errorf("SetCriteria(unset) error = %v", err)
	}
}

func TestConditionEditor_Commit(t *testing.T) {
	e := NewConditionEditor(NewResolver(nil), []types.UsageCondition{
		{Dimension: "AMOUNT", Operator: ">=", Value: "  10 "},
		{Dimension: "CURRENCY", Operator: ">", Value: "EUR"},
		{Operator: "=", Value: "orphan"},
		{},
	}, types.BillingCriteriaInclude)

	conds, criteria := e.Commit()
	if criteria != types.BillingCriteriaInclude {
		t.Errorf("criteria = %s", criteria)
	}
	want := []types.UsageCondition{
		{Dimension: "AMOUNT", Operator: ">=", Value: "10"},
		{Dimension: "CURRENCY", Value: "EUR"},
		{Value: "orphan"},
		{},
	}
	if len(conds) != len(want) {
		t.Fatalf("len = %d, want %d", len(conds), len(want))
	}
	for i := range want {
		if conds[i] != want[i] {
			t.Errorf("condition %d = %+v, want %+v", i, conds[i], want[i])
		}
	}

	conds[0].Value = "mutated"
	if e.Conditions()[0].Value != "10" {
		t.Error("Commit() returned shared backing array")
	}
}

func TestConditionEditor_Options(t *testing.T) {
	e := NewConditionEditor(NewResolver(nil), []types.UsageCondition{{Dimension: "AMOUNT", Operator: "="}}, types.BillingCriteriaUnset)

	dims, err := e.DimensionOptions(types.EntityTypeAPI, "TRANSACTION", 0)
	if err != nil || !dims.Known("AMOUNT") {
		t.Errorf("DimensionOptions() = %+v, %v", dims, err)
	}
	ops, err := e.OperatorOptions(0)
	if err != nil {
		t.Fatal(err)
	}
	if ops.Contains("=") {
		t.Errorf("OperatorOptions() = %v, stale operator offered", ops.Values)
	}
	if _, err := e.OperatorOptions(3); !errors.Is(err, types.ErrConditionIndex) {
		t.Errorf("OperatorOptions(3) error = %v", err)
	}
}

// Property-based test: committed conditions never carry an illegal operator
func TestConditionEditor_PropertyCommitLegal(t *testing.T) {
	r := NewResolver(nil)
	dims := []string{"", "AMOUNT", "STATUS", "ENDPOINT", "STATUS_CODE", "UNKNOWN"}
	ops := []string{"", "=", "!=", ">", "<", ">=", "<=", "contains", "starts_with", "~"}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("commit clears illegal operators", prop.ForAll(
		func(steps []int) bool {
			e := NewConditionEditor(r, nil, types.BillingCriteriaUnset)
			for _, s := range steps {
				switch s % 4 {
				case 0:
					e.AddCondition()
				case 1:
					if e.Len() > 0 {
						_ = e.UpdateCondition(s%e.Len(), types.ConditionFieldDimension, dims[s%len(dims)])
					}
				case 2:
					if e.Len() > 0 {
						_ = e.UpdateCondition(s%e.Len(), types.ConditionFieldOperator, ops[s%len(ops)])
					}
				case 3:
					if e.Len() > 1 {
						_ = e.RemoveCondition(s % e.Len())
					}
				}
			}
			committed, _ := e.Commit()
			for _, c := range committed {
				if !c.Operator.IsSet() {
					continue
				}
				if !r.ResolveOperators(c.Dimension, types.OperatorUnset).Known(c.Operator) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
