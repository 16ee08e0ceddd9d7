// Package unique checks uniqueness-constrained fields against the backend.
//
// The backend offers no uniqueness query; the Checker lists the sibling
// collection and compares locally, case-insensitively after trimming.
// Validator wraps a Checker with the debounce and skip rules used while a
// field is being edited.
package unique

import (
	"context"
	"strings"

	"github.com/solatis/meterkeeper/internal/types"
)

// Lister returns the full collection of one entity kind.
type Lister interface {
	List(ctx context.Context, kind types.Kind) ([]types.Record, error)
}

// Checker answers "does another entity already hold this value".
type Checker struct {
	lister Lister
}

// NewChecker creates a checker over l.
func NewChecker(l Lister) *Checker {
	return &Checker{lister: l}
}

// Same reports whether two values normalize identically.
func Same(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// CheckUnique reports whether a record other than excludeID holds value in
// field. Deleted records are ignored. An empty value never conflicts and
// issues no request.
func (c *Checker) CheckUnique(ctx context.Context, kind types.Kind, field types.Field, value string, excludeID types.EntityID) (bool, error) {
	if strings.TrimSpace(value) == "" {
		return false, nil
	}
	records, err := c.lister.List(ctx, kind)
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if excludeID != types.NoID && rec.ID == excludeID {
			continue
		}
		if rec.Status == types.StatusDeleted {
			continue
		}
		if Same(rec.Values.Get(field).String(), value) {
			return true, nil
		}
	}
	return false, nil
}
