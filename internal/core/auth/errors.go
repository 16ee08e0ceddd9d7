package auth

import "errors"

// Authentication errors. Missing and invalid keys map to 401 without
// confirming whether a key exists; revoked keys map to 403.
var (
	ErrMissingKey       = errors.New("API key required in x-api-key header")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrUnknownKey       = errors.New("unknown secret ID")
	ErrInvalidKey       = errors.New("invalid API key")
	ErrKeyRevoked       = errors.New("API key has been revoked")
	ErrUnavailable      = errors.New("authentication temporarily unavailable")
	ErrNoSecrets        = errors.New("no HMAC secrets configured")
	ErrKeyNotFound      = errors.New("API key not found or already revoked")
)
