// Package config provides configuration management for meterkeeper services.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable the services read.
const EnvPrefix = "MK"

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig
	Client    ClientConfig
	Validator ValidatorConfig
	Rules     RulesConfig
	Catalog   CatalogConfig
}

// ServerConfig holds the REST and gRPC health listener settings.
type ServerConfig struct {
	Host           string
	Port           int
	GRPCPort       int
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	DataDir        string
}

// ClientConfig points CLI commands at a running service.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ValidatorConfig tunes the uniqueness validator.
type ValidatorConfig struct {
	Debounce time.Duration
}

// RulesConfig holds finalize-time policy.
type RulesConfig struct {
	// AdmitStaleValues lets finalize accept classification values that are
	// no longer in the catalog for their upstream selection.
	AdmitStaleValues bool
}

// CatalogConfig selects the decision tables. Empty Path uses the embedded catalog.
type CatalogConfig struct {
	Path string
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			GRPCPort:       50051,
			RequestTimeout: 30 * time.Second,
			MaxBodyBytes:   1 << 20,
			DataDir:        "./data",
		},
		Client: ClientConfig{
			BaseURL: "http://127.0.0.1:8080",
			Timeout: 20 * time.Second,
		},
		Validator: ValidatorConfig{Debounce: 500 * time.Millisecond},
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports MK_HMAC_SECRET (single) and MK_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(name, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' in %s (check %s_HMAC_SECRET and %s_HMAC_SECRET_* for conflicts)", secretID, name, EnvPrefix, EnvPrefix)
		}
		secrets[secretID] = decoded
		return nil
	}

	single := EnvPrefix + "_HMAC_SECRET"
	if val := os.Getenv(single); val != "" {
		if err := add(single, val); err != nil {
			return nil, err
		}
	}
	// numbered secrets stop at the first gap
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s_%d", single, i)
		val := os.Getenv(name)
		if val == "" {
			break
		}
		if err := add(name, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// APIKey returns the key CLI commands present to the service.
func APIKey() string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + "_API_KEY"))
}

// ParseHMACSecret decodes a base64-encoded HMAC secret.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 lowercase hex chars (a UUID without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	id, encoded, ok := strings.Cut(strings.TrimSpace(envValue), ":")
	if !ok {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}
	if !IsSecretID(id) {
		return "", nil, fmt.Errorf("secret_id must be 32 lowercase hex chars (UUID without hyphens)")
	}
	secret, err = ParseHMACSecret(encoded)
	if err != nil {
		return "", nil, err
	}
	return id, secret, nil
}

// IsSecretID reports whether s is 32 lowercase hex chars.
func IsSecretID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
