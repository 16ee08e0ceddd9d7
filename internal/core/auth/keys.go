package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyInfo describes a stored API key. The key itself is never stored.
type KeyInfo struct {
	ID         string
	TenantID   string
	Name       string
	SecretID   string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// IssueKey creates a key for tenantID signed by secretID, or by the
// lexically greatest configured secret when secretID is empty. The
// plaintext key is returned once.
func (a *Authenticator) IssueKey(ctx context.Context, tenantID, name, secretID string) (string, KeyInfo, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", KeyInfo{}, fmt.Errorf("tenant id required")
	}
	if secretID == "" {
		secretID = latestSecretID(a.secrets)
	}
	secret, ok := a.secrets[secretID]
	if !ok {
		if len(a.secrets) == 0 {
			return "", KeyInfo{}, ErrNoSecrets
		}
		return "", KeyInfo{}, fmt.Errorf("%w: %s", ErrUnknownKey, secretID)
	}

	random, err := randomHex(32)
	if err != nil {
		return "", KeyInfo{}, fmt.Errorf("generate key: %w", err)
	}
	apiKey := FormatAPIKey(secretID, random)

	info := KeyInfo{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		Name:      name,
		SecretID:  secretID,
		CreatedAt: a.now().UTC().Truncate(time.Millisecond),
	}
	_, err = a.queries.Exec(ctx, "insert-api-key",
		info.ID, info.TenantID, info.Name, info.SecretID, ComputeHMAC(secret, apiKey), info.CreatedAt.UnixMilli())
	if err != nil {
		return "", KeyInfo{}, fmt.Errorf("store key: %w", err)
	}
	return apiKey, info, nil
}

// ListKeys returns the tenant's keys, oldest first.
func (a *Authenticator) ListKeys(ctx context.Context, tenantID string) ([]KeyInfo, error) {
	var rows []struct {
		ID         string `db:"api_key_id"`
		TenantID   string `db:"tenant_id"`
		Name       string `db:"name"`
		SecretID   string `db:"secret_id"`
		CreatedAt  int64  `db:"created_at"`
		LastUsedAt *int64 `db:"last_used_at"`
		RevokedAt  *int64 `db:"revoked_at"`
	}
	if err := a.queries.Select(ctx, "list-api-keys", &rows, tenantID); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	out := make([]KeyInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, KeyInfo{
			ID:         r.ID,
			TenantID:   r.TenantID,
			Name:       r.Name,
			SecretID:   r.SecretID,
			CreatedAt:  time.UnixMilli(r.CreatedAt).UTC(),
			LastUsedAt: millis(r.LastUsedAt),
			RevokedAt:  millis(r.RevokedAt),
		})
	}
	return out, nil
}

// RevokeKey marks a key revoked. Revoking twice fails with ErrKeyNotFound.
func (a *Authenticator) RevokeKey(ctx context.Context, keyID string) error {
	res, err := a.queries.Exec(ctx, "revoke-api-key", a.now().UnixMilli(), keyID)
	if err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func latestSecretID(secrets map[string][]byte) string {
	ids := make([]string, 0, len(secrets))
	for id := range secrets {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	return ids[len(ids)-1]
}

func millis(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.UnixMilli(*v).UTC()
	return &t
}
