package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/solatis/meterkeeper/internal/rules"
	"github.com/solatis/meterkeeper/internal/types"
)

// optionInputs are the query parameters handleOptions reads as field values.
var optionInputs = []types.Field{
	types.FieldEntityType,
	types.FieldUnitOfMeasure,
	types.FieldDimension,
	types.FieldAggregationFunction,
	types.FieldAggregationWindow,
	types.FieldBillingCriteria,
	rules.OperatorField,
}

// handleOptions resolves GET /v1/catalog/options?field=unit_of_measure&entity_type=API.
// "current" overrides the field's own value.
func (s *Service) handleOptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	field := types.Field(q.Get("field"))
	if field == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "field query parameter required")
		return
	}

	values := types.FieldValues{}
	for _, f := range optionInputs {
		if v := q.Get(string(f)); v != "" {
			values[f] = types.Text(v)
		}
	}
	if q.Has("current") {
		values[field] = types.Text(q.Get("current"))
	}

	opts, err := s.resolver.ResolveField(field, values)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// evaluation is one line of the daily evaluation log.
type evaluation struct {
	At       time.Time         `json:"at"`
	TenantID string            `json:"tenant_id"`
	MetricID types.EntityID    `json:"metric_id"`
	Event    json.RawMessage   `json:"event"`
	Result   rules.MatchResult `json:"result"`
}

// handleEvaluate matches the posted usage event against a stored metric.
func (s *Service) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	rec, err := s.store.Get(r.Context(), tenantID, types.KindMetric, entityID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	event, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	result, err := rules.Evaluate(rec.Values, event)
	if err != nil {
		var ve *types.ValidationError
		if errors.Is(err, types.ErrValidation) && !errors.As(err, &ve) {
			// incomplete stored conditions, not the caller's event
			writeError(w, http.StatusConflict, codeConflict, err.Error())
			return
		}
		s.writeServiceError(w, r, badRequest{err})
		return
	}

	if s.cfg.DataDir != "" {
		s.appendEvaluation(evaluation{
			At:       time.Now().UTC(),
			TenantID: tenantID,
			MetricID: rec.ID,
			Event:    event,
			Result:   result,
		})
	}
	writeJSON(w, http.StatusOK, result)
}

// appendEvaluation writes to DataDir/evaluations/<date>.jsonl.
// Best-effort debugging aid; failures are logged, never returned.
func (s *Service) appendEvaluation(e evaluation) {
	filename := filepath.Join(s.cfg.DataDir, "evaluations", e.At.Format("2006-01-02.jsonl"))
	mu := s.getJSONLMutex(filename)
	mu.Lock()
	defer mu.Unlock()

	if err := appendJSONL(filename, e); err != nil {
		s.logger.Warn("failed to append evaluation log", "file", filename, "error", err)
	}
}

func appendJSONL(filename string, v any) error {
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("encode: %w", err)
	}
	return f.Close()
}
