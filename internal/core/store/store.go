// Package store persists metric and customer entities for the REST service.
//
// Every operation is scoped to a tenant, the owning scope under which names
// and emails must be unique. Drafts are stored as a JSON object of their
// non-empty fields; clearing a field removes its key. Deleted drafts are
// removed outright. State transitions run inside a transaction so a
// concurrent finalize and patch cannot both succeed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/meterkeeper/internal/core/db"
	"github.com/solatis/meterkeeper/internal/types"
)

// ValidateFunc is the finalize gate. It sees the stored values and returns
// a *types.ValidationError when required fields are missing.
type ValidateFunc func(types.FieldValues) error

// Store is the entity repository.
type Store struct {
	queries *db.Queries
	now     func() time.Time
}

// New creates a store over loaded named queries.
func New(queries *db.Queries) *Store {
	return &Store{queries: queries, now: time.Now}
}

type entityRow struct {
	EntityID  string `db:"entity_id"`
	Kind      string `db:"kind"`
	Status    string `db:"status"`
	Fields    string `db:"fields"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r entityRow) record() (*types.Record, error) {
	kind, err := types.ParseKind(r.Kind)
	if err != nil {
		return nil, err
	}
	schema, err := types.SchemaFor(kind)
	if err != nil {
		return nil, err
	}
	values, err := schema.Decode([]byte(r.Fields))
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", r.EntityID, err)
	}
	status, err := types.ParseStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", r.EntityID, err)
	}
	return &types.Record{
		ID:        types.EntityID(r.EntityID),
		Kind:      kind,
		Status:    status,
		Values:    values,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}, nil
}

// check rejects fields outside the kind's schema and wrong variants.
func check(kind types.Kind, cs types.ChangeSet) error {
	schema, err := types.SchemaFor(kind)
	if err != nil {
		return err
	}
	for _, f := range cs.Fields() {
		if err := schema.Check(f, cs[f]); err != nil {
			return err
		}
	}
	return nil
}

func encode(values types.FieldValues) (string, error) {
	data, err := types.Sparse(values).MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Create stores a new DRAFT from a sparse payload.
func (s *Store) Create(ctx context.Context, tenantID string, kind types.Kind, payload types.ChangeSet) (*types.Record, error) {
	if err := check(kind, payload); err != nil {
		return nil, err
	}
	values := types.Apply(types.FieldValues{}, payload)
	fields, err := encode(values)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	rec := &types.Record{
		ID:        types.NewEntityID(),
		Kind:      kind,
		Status:    types.StatusDraft,
		Values:    values,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.queries.Exec(ctx, "insert-entity",
		string(rec.ID), tenantID, string(kind), string(rec.Status), fields, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", kind, err)
	}
	return rec, nil
}

// Get returns one entity, types.ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, tenantID string, kind types.Kind, id types.EntityID) (*types.Record, error) {
	return get(ctx, s.queries, tenantID, kind, id)
}

func get(ctx context.Context, q *db.Queries, tenantID string, kind types.Kind, id types.EntityID) (*types.Record, error) {
	var row entityRow
	err := q.Get(ctx, "get-entity", &row, tenantID, string(kind), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", types.ErrNotFound, kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return row.record()
}

// List returns every entity of kind owned by the tenant, drafts included.
func (s *Store) List(ctx context.Context, tenantID string, kind types.Kind) ([]types.Record, error) {
	var rows []entityRow
	if err := s.queries.Select(ctx, "list-entities", &rows, tenantID, string(kind)); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	out := make([]types.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Update applies a ChangeSet to a DRAFT. Omitted fields are unchanged and
// cleared values remove the field. Non-drafts fail with types.ErrConflict.
func (s *Store) Update(ctx context.Context, tenantID string, kind types.Kind, id types.EntityID, cs types.ChangeSet) (*types.Record, error) {
	if err := check(kind, cs); err != nil {
		return nil, err
	}

	var rec *types.Record
	err := s.queries.InTx(ctx, func(q *db.Queries) error {
		current, err := get(ctx, q, tenantID, kind, id)
		if err != nil {
			return err
		}
		if current.Status != types.StatusDraft {
			return fmt.Errorf("%w: %s %s is %s", types.ErrConflict, kind, id, current.Status)
		}

		current.Values = types.Apply(current.Values, cs)
		current.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)
		fields, err := encode(current.Values)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, "update-entity-fields",
			fields, current.UpdatedAt.UnixMilli(), tenantID, string(kind), string(id)); err != nil {
			return fmt.Errorf("update %s %s: %w", kind, id, err)
		}
		rec = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Finalize moves a DRAFT to ACTIVE when validate accepts its values.
// A rejection is returned unchanged so callers can report field errors.
func (s *Store) Finalize(ctx context.Context, tenantID string, kind types.Kind, id types.EntityID, validate ValidateFunc) (*types.Record, error) {
	var rec *types.Record
	err := s.queries.InTx(ctx, func(q *db.Queries) error {
		current, err := get(ctx, q, tenantID, kind, id)
		if err != nil {
			return err
		}
		if current.Status != types.StatusDraft {
			return fmt.Errorf("%w: %s %s is %s", types.ErrConflict, kind, id, current.Status)
		}
		if validate != nil {
			if err := validate(current.Values); err != nil {
				return err
			}
		}

		current.Status = types.StatusActive
		current.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)
		if _, err := q.Exec(ctx, "finalize-entity",
			current.UpdatedAt.UnixMilli(), tenantID, string(kind), string(id)); err != nil {
			return fmt.Errorf("finalize %s %s: %w", kind, id, err)
		}
		rec = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a DRAFT. Finalized entities fail with types.ErrConflict.
func (s *Store) Delete(ctx context.Context, tenantID string, kind types.Kind, id types.EntityID) error {
	return s.queries.InTx(ctx, func(q *db.Queries) error {
		current, err := get(ctx, q, tenantID, kind, id)
		if err != nil {
			return err
		}
		if current.Status != types.StatusDraft {
			return fmt.Errorf("%w: %s %s is %s", types.ErrConflict, kind, id, current.Status)
		}
		if _, err := q.Exec(ctx, "delete-draft", tenantID, string(kind), string(id)); err != nil {
			return fmt.Errorf("delete %s %s: %w", kind, id, err)
		}
		return nil
	})
}
