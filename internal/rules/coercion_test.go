package rules

import (
	"testing"

	"github.com/solatis/meterkeeper/internal/types"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		mode      Mode
		wantValue any
		wantNull  bool
		wantErr   error
	}{
		{name: "numeric: string to float64", value: "25", mode: ModeNumeric, wantValue: 25.0},
		{name: "numeric: float64 passthrough", value: 42.5, mode: ModeNumeric, wantValue: 42.5},
		{name: "numeric: int to float64", value: 100, mode: ModeNumeric, wantValue: 100.0},
		{name: "numeric: int64 to float64", value: int64(999), mode: ModeNumeric, wantValue: 999.0},
		{name: "numeric: string with whitespace", value: "  42  ", mode: ModeNumeric, wantValue: 42.0},
		{name: "numeric: whitespace only", value: "   ", mode: ModeNumeric, wantErr: types.ErrCoercionFailed},
		{name: "numeric: not a number", value: "abc", mode: ModeNumeric, wantErr: types.ErrCoercionFailed},
		{name: "numeric: boolean rejected", value: true, mode: ModeNumeric, wantErr: types.ErrCoercionFailed},
		{name: "numeric: object rejected", value: map[string]any{}, mode: ModeNumeric, wantErr: types.ErrCoercionFailed},
		{name: "text: string passthrough", value: "EUR", mode: ModeText, wantValue: "EUR"},
		{name: "text: float64 without trailing zeros", value: 200.0, mode: ModeText, wantValue: "200"},
		{name: "text: int", value: 7, mode: ModeText, wantValue: "7"},
		{name: "text: boolean", value: false, mode: ModeText, wantValue: "false"},
		{name: "null", value: nil, mode: ModeNumeric, wantNull: true},
		{name: "unknown mode", value: "x", mode: Mode(9), wantErr: types.ErrCoercionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.value, tt.mode)
			if err != tt.wantErr {
				t.Fatalf("Coerce() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.IsNull != tt.wantNull {
				t.Errorf("IsNull = %v, want %v", got.IsNull, tt.wantNull)
			}
			if !tt.wantNull && got.Value != tt.wantValue {
				t.Errorf("Value = %#v, want %#v", got.Value, tt.wantValue)
			}
		})
	}
}

func TestModeFor(t *testing.T) {
	for _, op := range []types.Operator{">", "<", ">=", "<="} {
		if ModeFor(op) != ModeNumeric {
			t.Errorf("ModeFor(%s) = text, want numeric", op)
		}
	}
	for _, op := range []types.Operator{"=", "!=", "contains", "starts_with"} {
		if ModeFor(op) != ModeText {
			t.Errorf("ModeFor(%s) = numeric, want text", op)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		op     types.Operator
		value  any
		target any
		want   bool
	}{
		{"=", "EUR", "EUR", true},
		{"=", "EUR", "eur", false},
		{"=", "10", "10.0", true},
		{"!=", "card", "cash", true},
		{"!=", "5", "5", false},
		{">", 5.0, 3.0, true},
		{">", 3.0, 3.0, false},
		{">=", 3.0, 3.0, true},
		{"<", 1.0, 2.0, true},
		{"<=", 2.0, 2.0, true},
		{">", "5", 3.0, false},
		{"contains", "/v1/charges", "charge", true},
		{"contains", "/v1/refunds", "charge", false},
		{"starts_with", "/v1/charges", "/v1", true},
		{"starts_with", 10.0, "1", false},
		{"~", "a", "a", false},
	}

	for _, tt := range tests {
		if got := Compare(tt.op, tt.value, tt.target); got != tt.want {
			t.Errorf("Compare(%s, %v, %v) = %v, want %v", tt.op, tt.value, tt.target, got, tt.want)
		}
	}
}
