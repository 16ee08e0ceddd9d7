package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/solatis/meterkeeper/internal/types"
)

// Error codes carried in the "code" member of error bodies.
const (
	codeInvalidRequest   = "INVALID_REQUEST"
	codeNotFound         = "NOT_FOUND"
	codeConflict         = "CONFLICT"
	codeFinalizeRejected = "FINALIZE_REJECTED"
	codeTooLarge         = "REQUEST_TOO_LARGE"
	codeUnauthorized     = "UNAUTHORIZED"
	codeInternal         = "INTERNAL_ERROR"
)

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields types.FieldErrors `json:"fields,omitempty"`
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("writeJSON encode failed", "error", err)
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

// badRequest marks a malformed request body or parameter.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }

func (e badRequest) Unwrap() error { return e.err }

// writeServiceError maps domain errors to HTTP responses:
//
//	ValidationError          -> 422 with per-field messages
//	ErrNotFound              -> 404
//	ErrConflict              -> 409 (not a draft, or already finalized)
//	schema and decode errors -> 400
//	body over the limit      -> 413
//
// Anything else is logged and reported as 500 without detail.
func (s *Service) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *types.ValidationError
	var tooLarge *http.MaxBytesError
	var bad badRequest

	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:  "required fields missing or invalid",
			Code:   codeFinalizeRejected,
			Fields: ve.Errors,
		})
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, types.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge, err.Error())
	case errors.As(err, &bad),
		errors.Is(err, types.ErrUnknownField),
		errors.Is(err, types.ErrFieldKind),
		errors.Is(err, types.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	default:
		s.logger.Error("internal error", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}
