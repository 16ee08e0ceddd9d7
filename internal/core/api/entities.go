package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/solatis/meterkeeper/internal/core/auth"
	"github.com/solatis/meterkeeper/internal/rules"
	"github.com/solatis/meterkeeper/internal/types"
)

// tenant returns the authenticated tenant, writing 401 when absent.
func tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "no authenticated tenant")
		return "", false
	}
	return tenantID, true
}

func entityID(r *http.Request) types.EntityID {
	return types.EntityID(chi.URLParam(r, "id"))
}

// decodeChangeSet reads a field object through the kind's schema.
// null and [] decode to cleared values.
func (s *Service) decodeChangeSet(w http.ResponseWriter, r *http.Request, kind types.Kind) (types.ChangeSet, error) {
	schema, err := types.SchemaFor(kind)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return types.ChangeSet{}, nil
	}
	cs, err := schema.DecodeChangeSet(body)
	if err != nil {
		return nil, badRequest{err}
	}
	return cs, nil
}

// logStale reports classification values the catalog no longer offers.
// Drafts are saved regardless; finalize decides.
func (s *Service) logStale(rec *types.Record) {
	if rec.Kind != types.KindMetric {
		return
	}
	if stale := s.resolver.StaleFields(rec.Values); len(stale) > 0 {
		s.logger.Warn("draft holds stale classification values", "id", rec.ID, "fields", stale)
	}
}

func (s *Service) handleCreate(kind types.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenant(w, r)
		if !ok {
			return
		}
		payload, err := s.decodeChangeSet(w, r, kind)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		rec, err := s.store.Create(r.Context(), tenantID, kind, payload)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.logStale(rec)
		s.logger.Info("draft created", "kind", kind, "id", rec.ID, "tenant_id", tenantID)
		writeJSON(w, http.StatusCreated, rec)
	}
}

func (s *Service) handleUpdate(kind types.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenant(w, r)
		if !ok {
			return
		}
		cs, err := s.decodeChangeSet(w, r, kind)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		rec, err := s.store.Update(r.Context(), tenantID, kind, entityID(r), cs)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.logStale(rec)
		s.logger.Debug("draft updated", "kind", kind, "id", rec.ID, "fields", cs.Fields())
		writeJSON(w, http.StatusOK, rec)
	}
}

// finalizeGate returns the final validation for kind.
func (s *Service) finalizeGate(kind types.Kind) func(types.FieldValues) error {
	if kind == types.KindMetric {
		return func(values types.FieldValues) error {
			return s.resolver.ValidateMetric(values, s.cfg.Policy)
		}
	}
	return rules.ValidateCustomer
}

func (s *Service) handleFinalize(kind types.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenant(w, r)
		if !ok {
			return
		}
		rec, err := s.store.Finalize(r.Context(), tenantID, kind, entityID(r), s.finalizeGate(kind))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.logger.Info("entity finalized", "kind", kind, "id", rec.ID, "tenant_id", tenantID)
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Service) handleDelete(kind types.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenant(w, r)
		if !ok {
			return
		}
		if err := s.store.Delete(r.Context(), tenantID, kind, entityID(r)); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Service) handleGet(kind types.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenant(w, r)
		if !ok {
			return
		}
		rec, err := s.store.Get(r.Context(), tenantID, kind, entityID(r))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// handleList returns the whole collection; uniqueness checks run over it.
func (s *Service) handleList(kind types.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenant(w, r)
		if !ok {
			return
		}
		recs, err := s.store.List(r.Context(), tenantID, kind)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	}
}
