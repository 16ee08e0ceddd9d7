package rules

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/meterkeeper/internal/types"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var doc any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		t.Fatalf("bad fixture %s: %v", s, err)
	}
	return doc
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		data     string
		expected any
		wantErr  error
	}{
		{
			name:     "nested object traversal",
			path:     "dimensions.amount",
			data:     `{"dimensions": {"amount": 12.5}}`,
			expected: 12.5,
		},
		{
			name:     "array index access",
			path:     "items.1.sku",
			data:     `{"items": [{"sku": "a"}, {"sku": "b"}]}`,
			expected: "b",
		},
		{
			name:     "numeric key on object",
			path:     "codes.200",
			data:     `{"codes": {"200": "ok"}}`,
			expected: "ok",
		},
		{
			name:     "wildcard first match",
			path:     "items.*.price",
			data:     `{"items": [{"name": "x"}, {"price": 10}, {"price": 20}]}`,
			expected: float64(10),
		},
		{
			name:     "wildcard on object sorted keys",
			path:     "*.value",
			data:     `{"z": {"value": 1}, "a": {"value": 2}}`,
			expected: float64(2),
		},
		{
			name:    "missing key",
			path:    "dimensions.region",
			data:    `{"dimensions": {}}`,
			wantErr: types.ErrFieldNotFound,
		},
		{
			name:    "index out of range",
			path:    "items.5",
			data:    `{"items": [1]}`,
			wantErr: types.ErrFieldNotFound,
		},
		{
			name:    "key on array",
			path:    "items.sku",
			data:    `{"items": [{"sku": "a"}]}`,
			wantErr: types.ErrFieldNotFound,
		},
		{
			name:    "path continues past scalar",
			path:    "amount.value",
			data:    `{"amount": 3}`,
			wantErr: types.ErrFieldNotFound,
		},
		{
			name:    "wildcard on empty array",
			path:    "items.*",
			data:    `{"items": []}`,
			wantErr: types.ErrFieldNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := ParsePath(tt.path)
			if err != nil {
				t.Fatalf("ParsePath() error = %v", err)
			}
			got, err := Lookup(path, decode(t, tt.data))
			if err != tt.wantErr {
				t.Fatalf("Lookup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != tt.expected {
				t.Errorf("Lookup() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestParsePath_Errors(t *testing.T) {
	if _, err := ParsePath(""); err != types.ErrFieldNotFound {
		t.Errorf("ParsePath(\"\") error = %v", err)
	}
	deep := strings.Repeat("a.", types.MaxPathDepth) + "a"
	if _, err := ParsePath(deep); err != types.ErrPathTooDeep {
		t.Errorf("ParsePath(deep) error = %v, want ErrPathTooDeep", err)
	}
	ok := strings.TrimSuffix(strings.Repeat("a.", types.MaxPathDepth), ".")
	if _, err := ParsePath(ok); err != nil {
		t.Errorf("ParsePath(max depth) error = %v", err)
	}
}

// Property-based test: lookup never crashes
func TestLookup_PropertyNeverCrashes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	doc := map[string]any{"key": []any{map[string]any{"key": "value"}, nil, 3.0}}
	parts := []string{"key", "*", "0", "1", "2", "missing"}

	properties.Property("lookup never crashes regardless of path", prop.ForAll(
		func(steps []int) bool {
			if len(steps) == 0 {
				return true
			}
			segs := make([]string, len(steps))
			for i, s := range steps {
				segs[i] = parts[s%len(parts)]
			}

			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Lookup() panicked on %v: %v", segs, r)
				}
			}()

			path, err := ParsePath(strings.Join(segs, "."))
			if err != nil {
				return err == types.ErrPathTooDeep
			}
			_, _ = Lookup(path, doc)
			return true
		},
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
