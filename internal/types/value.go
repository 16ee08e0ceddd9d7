// internal/types/value.go
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
)

/*
 * Tagged field values.
 *
 * Entity fields are carried as Value, a closed variant:
 *   - Unset: no value; encodes as JSON null ("clear" in a change set)
 *   - Text: non-empty scalar string
 *   - List: ordered strings; zero items is a cleared collection, encodes as []
 *   - Conditions: ordered usage conditions; zero items encodes as []
 *
 * Empty text normalizes to Unset so "" and null never diverge. Equality
 * treats Unset and an empty collection as equal: an entity that never had
 * tags and one whose tags were cleared hold the same data. A collection
 * that becomes empty still shows up in a ChangeSet because its baseline
 * was non-empty.
 */

// ValueKind discriminates the Value variant.
type ValueKind int

const (
	KindUnset ValueKind = iota
	KindText
	KindList
	KindConditions
)

func (k ValueKind) String() string {
	switch k {
	case KindUnset:
		return "unset"
	case KindText:
		return "text"
	case KindList:
		return "list"
	case KindConditions:
		return "conditions"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one entity field value.
type Value struct {
	kind  ValueKind
	text  string
	list  []string
	conds []UsageCondition
}

// Unset returns the empty variant.
func Unset() Value { return Value{} }

// Text returns a scalar value; empty strings become Unset.
func Text(s string) Value {
	if s == "" {
		return Value{}
	}
	return Value{kind: KindText, text: s}
}

// List returns a collection value. A nil or empty slice is a cleared collection.
func List(items []string) Value {
	return Value{kind: KindList, list: slices.Clone(items)}
}

// Conditions returns a usage-condition collection value.
func Conditions(conds []UsageCondition) Value {
	return Value{kind: KindConditions, conds: slices.Clone(conds)}
}

func (v Value) Kind() ValueKind { return v.kind }

// IsEmpty reports Unset or a collection with no items.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindList:
		return len(v.list) == 0
	case KindConditions:
		return len(v.conds) == 0
	case KindText:
		return v.text == ""
	default:
		return true
	}
}

// String returns the scalar text, or "" for other variants.
func (v Value) String() string { return v.text }

// Strings returns a copy of the list items.
func (v Value) Strings() []string { return slices.Clone(v.list) }

// UsageConditions returns a copy of the condition items.
func (v Value) UsageConditions() []UsageCondition { return slices.Clone(v.conds) }

// Equal compares two values; Unset equals any empty collection.
func (v Value) Equal(o Value) bool {
	if v.IsEmpty() && o.IsEmpty() {
		return true
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindText:
		return v.text == o.text
	case KindList:
		return slices.Equal(v.list, o.list)
	case KindConditions:
		return slices.Equal(v.conds, o.conds)
	default:
		return true
	}
}

// MarshalJSON encodes Unset as null, collections as arrays (never null).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindText:
		return json.Marshal(v.text)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindConditions:
		if v.conds == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.conds)
	default:
		return []byte("null"), nil
	}
}

// decodeValue parses raw JSON into the variant the schema expects.
// null decodes to Unset for scalars and to a cleared collection for lists.
func decodeValue(kind ValueKind, raw json.RawMessage) (Value, error) {
	isNull := len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
	switch kind {
	case KindText:
		if isNull {
			return Unset(), nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		return Text(s), nil
	case KindList:
		if isNull {
			return List(nil), nil
		}
		var items []string
		if err := json.Unmarshal(raw, &items); err != nil {
			return Value{}, err
		}
		return List(items), nil
	case KindConditions:
		if isNull {
			return Conditions(nil), nil
		}
		var conds []UsageCondition
		if err := json.Unmarshal(raw, &conds); err != nil {
			return Value{}, err
		}
		return Conditions(conds), nil
	default:
		return Value{}, fmt.Errorf("cannot decode into %s", kind)
	}
}

// Kind identifies an entity kind handled by the draft system.
type Kind string

const (
	KindMetric   Kind = "metric"
	KindCustomer Kind = "customer"
)

// ParseKind accepts singular or plural, any case.
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	switch Kind(s) {
	case KindMetric:
		return KindMetric, nil
	case KindCustomer:
		return KindCustomer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Field is a typed entity field key. Legal keys per kind are fixed by Schema.
type Field string

// FieldValues holds one value per field.
type FieldValues map[Field]Value

// Get returns the value for f, Unset when absent.
func (fv FieldValues) Get(f Field) Value {
	return fv[f]
}

// Clone returns a shallow copy; Value contents are already immutable.
func (fv FieldValues) Clone() FieldValues {
	out := make(FieldValues, len(fv))
	for k, v := range fv {
		out[k] = v
	}
	return out
}

// Fields returns keys in lexical order for deterministic iteration.
func (fv FieldValues) Fields() []Field {
	keys := make([]Field, 0, len(fv))
	for k := range fv {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// MarshalJSON encodes as an object keyed by field name.
func (fv FieldValues) MarshalJSON() ([]byte, error) {
	return marshalFields(fv)
}

// ChangeSet maps each changed field to its new value. Unset means
// "clear"; an omitted field means "leave unchanged".
type ChangeSet map[Field]Value

func (cs ChangeSet) Len() int { return len(cs) }

func (cs ChangeSet) IsEmpty() bool { return len(cs) == 0 }

// Has reports whether f is part of the change set.
func (cs ChangeSet) Has(f Field) bool {
	_, ok := cs[f]
	return ok
}

// Fields returns changed keys in lexical order.
func (cs ChangeSet) Fields() []Field {
	return FieldValues(cs).Fields()
}

func (cs ChangeSet) MarshalJSON() ([]byte, error) {
	return marshalFields(cs)
}

func marshalFields[M ~map[Field]Value](m M) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range FieldValues(m).Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(f))
		if err != nil {
			return nil, err
		}
		val, err := m[f].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Diff returns every field whose current value differs from baseline.
// Fields present only in baseline are reported with their cleared form.
func Diff(current, baseline FieldValues) ChangeSet {
	cs := make(ChangeSet)
	for f, cur := range current {
		if !cur.Equal(baseline[f]) {
			cs[f] = cur
		}
	}
	for f, base := range baseline {
		if _, ok := current[f]; ok {
			continue
		}
		if !base.IsEmpty() {
			cs[f] = clearedLike(base)
		}
	}
	return cs
}

// Sparse returns only non-empty fields, the shape of a create payload.
func Sparse(values FieldValues) ChangeSet {
	cs := make(ChangeSet)
	for f, v := range values {
		if !v.IsEmpty() {
			cs[f] = v
		}
	}
	return cs
}

func clearedLike(v Value) Value {
	switch v.kind {
	case KindList:
		return List(nil)
	case KindConditions:
		return Conditions(nil)
	default:
		return Unset()
	}
}
