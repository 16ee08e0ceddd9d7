package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the backend representation of an entity.
type Record struct {
	ID        EntityID
	Kind      Kind
	Status    Status
	Values    FieldValues
	CreatedAt time.Time
	UpdatedAt time.Time
}

type recordWire struct {
	ID        EntityID        `json:"id"`
	Kind      Kind            `json:"kind"`
	Status    Status          `json:"status"`
	Fields    json.RawMessage `json:"fields"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MarshalJSON emits {"id","kind","status","fields":{...},"created_at","updated_at"}.
func (r Record) MarshalJSON() ([]byte, error) {
	values := r.Values
	if values == nil {
		values = FieldValues{}
	}
	fields, err := values.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(recordWire{
		ID:        r.ID,
		Kind:      r.Kind,
		Status:    r.Status,
		Fields:    fields,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	})
}

// UnmarshalJSON decodes fields through the schema named by "kind".
func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	schema, err := SchemaFor(w.Kind)
	if err != nil {
		return err
	}
	values := FieldValues{}
	if len(w.Fields) > 0 && string(w.Fields) != "null" {
		values, err = schema.Decode(w.Fields)
		if err != nil {
			return err
		}
	}
	status, err := ParseStatus(string(w.Status))
	if err != nil {
		return fmt.Errorf("record %s: %w", w.ID, err)
	}
	*r = Record{
		ID:        w.ID,
		Kind:      w.Kind,
		Status:    status,
		Values:    values,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
	return nil
}
