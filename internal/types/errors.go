package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for meterkeeper operations.
var (
	// ErrUnknownEntityType indicates a value outside the closed EntityType set.
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrUnknownStatus indicates a status string the lifecycle does not define.
	ErrUnknownStatus = errors.New("unknown status")

	// ErrUnknownKind indicates an entity kind without a schema.
	ErrUnknownKind = errors.New("unknown entity kind")

	// ErrUnknownField indicates a key outside the kind's schema.
	ErrUnknownField = errors.New("unknown field")

	// ErrFieldKind indicates a value variant the field does not carry.
	ErrFieldKind = errors.New("wrong value kind for field")

	// ErrConditionIndex indicates a usage-condition position out of range.
	ErrConditionIndex = errors.New("usage condition index out of range")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotEditable indicates a mutation after finalize or delete.
	ErrNotEditable = errors.New("entity is no longer editable")

	// ErrFinalizeInFlight indicates an edit while finalize is awaiting the backend.
	ErrFinalizeInFlight = errors.New("finalize in progress")

	// ErrNotDraft indicates finalize outside the DRAFT state.
	ErrNotDraft = errors.New("entity is not a draft")

	// ErrFinalizeRejected indicates the backend refused finalize; a logic error, not transient.
	ErrFinalizeRejected = errors.New("finalize rejected by backend")

	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("backend request failed")

	// ErrNotFound indicates the backend has no record for the identifier.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict indicates the backend refused a transition for the record's state.
	ErrConflict = errors.New("entity state conflict")

	// ErrFieldNotFound indicates a usage-event path that does not resolve.
	ErrFieldNotFound = errors.New("field not found")

	// ErrPathTooDeep indicates a usage-event path longer than MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrCoercionFailed indicates an event value that cannot be compared numerically.
	ErrCoercionFailed = errors.New("type coercion failed")
)

// MaxPathDepth bounds usage-event path resolution.
const MaxPathDepth = 16

// FieldErrors maps a field to a human-readable problem.
type FieldErrors map[Field]string

// Clone returns an independent copy.
func (fe FieldErrors) Clone() FieldErrors {
	out := make(FieldErrors, len(fe))
	for k, v := range fe {
		out[k] = v
	}
	return out
}

// ValidationError carries per-field problems that block finalize.
type ValidationError struct {
	Errors FieldErrors
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Errors))
	for f := range e.Errors {
		keys = append(keys, string(f))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Errors[Field(k)])
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransportError is an opaque backend failure surfaced to the caller.
// The core never retries it and never rolls back local edits because of it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
