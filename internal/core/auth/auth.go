// Package auth provides HMAC-based API key authentication for the REST API
// and the gRPC health service.
package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/meterkeeper/internal/logging"
)

// HeaderAPIKey carries the API key on HTTP requests and gRPC metadata.
const HeaderAPIKey = "x-api-key"

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// tenantIDKey is the context key for storing authenticated tenant ID.
const tenantIDKey = contextKey("tenant_id")

// healthPrefix names gRPC methods served without a key so probes need no secret.
const healthPrefix = "/grpc.health.v1.Health/"

// Queries interface defines database operations needed for authentication.
// Implemented by *db.Queries to allow query loading via LoadQueries().
type Queries interface {
	Get(ctx context.Context, name string, dest any, args ...any) error
	Select(ctx context.Context, name string, dest any, args ...any) error
	Exec(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
// Holds in-memory secret map for O(1) lookup and queries for key verification.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	logger  *slog.Logger
	now     func() time.Time
}

// NewAuthenticator creates an authenticator with HMAC secrets and query interface.
func NewAuthenticator(secrets map[string][]byte, queries Queries, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Authenticator{
		secrets: secrets,
		queries: queries,
		logger:  logger,
		now:     time.Now,
	}
}

// Authenticate validates API key and returns tenant_id on success.
// Returns specific error for each failure mode; storage failures wrap
// ErrUnavailable.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	// O(1) lookup of HMAC secret using secret_id from key format
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	computedHash := ComputeHMAC(secret, apiKey)

	// key_hash is unique, so at most one row matches
	var result struct {
		APIKeyID   string        `db:"api_key_id"`
		TenantID   string        `db:"tenant_id"`
		LastUsedAt sql.NullInt64 `db:"last_used_at"`
		RevokedAt  sql.NullInt64 `db:"revoked_at"`
	}

	err = a.queries.Get(ctx, "get-api-key-by-hash", &result, computedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if result.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	// 1-minute throttle reduces write amplification for chatty clients
	now := a.now()
	if shouldUpdateLastUsed(result.LastUsedAt, now) {
		if _, err := a.queries.Exec(ctx, "update-last-used", now.UnixMilli(), result.APIKeyID); err != nil {
			a.logger.Warn("failed to record key use", "api_key_id", result.APIKeyID, "error", err)
		}
	}

	return result.TenantID, nil
}

// shouldUpdateLastUsed implements 1-minute throttle to reduce write amplification.
func shouldUpdateLastUsed(lastUsed sql.NullInt64, now time.Time) bool {
	if !lastUsed.Valid {
		return true
	}
	return now.Sub(time.UnixMilli(lastUsed.Int64)) > time.Minute
}

// Middleware authenticates HTTP requests by the x-api-key header and
// injects the tenant into the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
		if apiKey == "" {
			writeAuthError(w, http.StatusUnauthorized, ErrMissingKey)
			return
		}

		tenantID, err := a.Authenticate(r.Context(), apiKey)
		if err != nil {
			code := httpStatus(err)
			if code == http.StatusServiceUnavailable {
				a.logger.Error("authentication unavailable", "path", r.URL.Path, "error", err)
				err = ErrUnavailable
			}
			writeAuthError(w, code, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tenantID)))
	})
}

// UnaryInterceptor returns gRPC interceptor that authenticates requests.
// Health checks pass through unauthenticated.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		apiKeys := md.Get(HeaderAPIKey)
		if len(apiKeys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		tenantID, err := a.Authenticate(ctx, apiKeys[0])
		if err != nil {
			switch {
			case errors.Is(err, ErrKeyRevoked):
				return nil, status.Error(codes.PermissionDenied, err.Error())
			case errors.Is(err, ErrUnavailable):
				// storage outage is not the caller's fault
				return nil, status.Error(codes.Unavailable, ErrUnavailable.Error())
			default:
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
		}

		return handler(WithTenantID(ctx, tenantID), req)
	}
}

// httpStatus maps authentication failures: 401 never confirms a key
// exists, 403 does.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrKeyRevoked):
		return http.StatusForbidden
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func writeAuthError(w http.ResponseWriter, status int, err error) {
	code := "UNAUTHORIZED"
	switch status {
	case http.StatusForbidden:
		code = "FORBIDDEN"
	case http.StatusServiceUnavailable:
		code = "UNAVAILABLE"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": code})
}

// WithTenantID returns a context carrying the authenticated tenant.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantIDFromContext extracts tenant ID from context.
// Returns empty string if not found.
func TenantIDFromContext(ctx context.Context) string {
	if tenantID, ok := ctx.Value(tenantIDKey).(string); ok {
		return tenantID
	}
	return ""
}
