package draft

import (
	"context"
	"errors"

	"github.com/solatis/meterkeeper/internal/types"
)

// Backend is the entity service the manager persists through.
//
// Create receives the sparse payload (non-empty fields only). Update
// receives only the ChangeSet: an omitted field is left unchanged, an
// unset or empty value clears it. Finalize must be rejected when required
// fields are missing; implementations report that with an error matching
// types.ErrFinalizeRejected. List is the existence query used for
// uniqueness checks.
type Backend interface {
	Create(ctx context.Context, kind types.Kind, payload types.ChangeSet) (*types.Record, error)
	Update(ctx context.Context, kind types.Kind, id types.EntityID, cs types.ChangeSet) (*types.Record, error)
	Finalize(ctx context.Context, kind types.Kind, id types.EntityID) (*types.Record, error)
	Delete(ctx context.Context, kind types.Kind, id types.EntityID) error
	List(ctx context.Context, kind types.Kind) ([]types.Record, error)
}

// transportError wraps a backend failure as the single opaque failure the
// manager surfaces. The cause stays reachable through errors.Is/As.
func transportError(op string, err error) error {
	var te *types.TransportError
	if errors.As(err, &te) {
		return err
	}
	return &types.TransportError{Op: op, Err: err}
}
