// Package api provides the meterkeeper REST API.
//
// Thin orchestration layer: handlers decode requests, delegate persistence
// to the entity store and catalog decisions to the rules package, and map
// sentinel errors to status codes in one place (errors.go).
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/solatis/meterkeeper/internal/core/store"
	"github.com/solatis/meterkeeper/internal/logging"
	"github.com/solatis/meterkeeper/internal/rules"
	"github.com/solatis/meterkeeper/internal/types"
)

// EntityStore is the persistence the handlers need. Implemented by *store.Store.
type EntityStore interface {
	Create(ctx context.Context, tenantID string, kind types.Kind, payload types.ChangeSet) (*types.Record, error)
	Get(ctx context.Context, tenantID string, kind types.Kind, id types.EntityID) (*types.Record, error)
	List(ctx context.Context, tenantID string, kind types.Kind) ([]types.Record, error)
	Update(ctx context.Context, tenantID string, kind types.Kind, id types.EntityID, cs types.ChangeSet) (*types.Record, error)
	Finalize(ctx context.Context, tenantID string, kind types.Kind, id types.EntityID, validate store.ValidateFunc) (*types.Record, error)
	Delete(ctx context.Context, tenantID string, kind types.Kind, id types.EntityID) error
}

// Config tunes the service.
type Config struct {
	Policy         rules.Policy
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	// DataDir receives the daily evaluation log; empty disables it.
	DataDir string
	Logger  *slog.Logger
}

// Service implements the REST handlers.
type Service struct {
	store    EntityStore
	resolver *rules.Resolver
	cfg      Config
	logger   *slog.Logger

	jsonlMutexes map[string]*sync.Mutex
	mutexLock    sync.Mutex
}

// NewService creates service instance with dependencies.
// Auto-creates the evaluations directory when DataDir is set.
func NewService(st EntityStore, resolver *rules.Resolver, cfg Config) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.DataDir != "" {
		if err := os.MkdirAll(filepath.Join(cfg.DataDir, "evaluations"), 0o755); err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Service{
		store:        st,
		resolver:     resolver,
		cfg:          cfg,
		logger:       logger,
		jsonlMutexes: make(map[string]*sync.Mutex),
	}, nil
}

// Routes returns the HTTP handler. authn guards everything under /v1;
// /healthz is open.
func (s *Service) Routes(authn func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(v1 chi.Router) {
		if authn != nil {
			v1.Use(authn)
		}
		v1.Route("/metrics", func(m chi.Router) {
			s.entityRoutes(m, types.KindMetric)
			m.Post("/{id}/evaluate", s.handleEvaluate)
		})
		v1.Route("/customers", func(c chi.Router) {
			s.entityRoutes(c, types.KindCustomer)
		})
		v1.Get("/catalog/options", s.handleOptions)
	})

	return r
}

func (s *Service) entityRoutes(r chi.Router, kind types.Kind) {
	r.Post("/", s.handleCreate(kind))
	r.Get("/", s.handleList(kind))
	r.Get("/{id}", s.handleGet(kind))
	r.Patch("/{id}", s.handleUpdate(kind))
	r.Post("/{id}/finalize", s.handleFinalize(kind))
	r.Delete("/{id}", s.handleDelete(kind))
}

func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// getJSONLMutex returns mutex for given filename, creating if not exists.
// Per-file mutex protects concurrent appends to the same daily file.
func (s *Service) getJSONLMutex(filename string) *sync.Mutex {
	s.mutexLock.Lock()
	defer s.mutexLock.Unlock()

	if _, ok := s.jsonlMutexes[filename]; !ok {
		s.jsonlMutexes[filename] = &sync.Mutex{}
	}
	return s.jsonlMutexes[filename]
}
