package types

import (
	"time"

	"github.com/google/uuid"
)

// EntityID is the backend identity of a draft or finalized entity.
// UUIDv7 keeps inserts time-ordered in the entities index.
type EntityID string

// NoID is the identity of an entity that has not been created yet.
const NoID EntityID = ""

// NewEntityID generates a UUIDv7 entity identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewEntityID() EntityID {
	return EntityID(uuid.Must(uuid.NewV7()).String())
}

// ParseEntityID validates and converts a string to EntityID.
func ParseEntityID(s string) (EntityID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return NoID, err
	}
	return EntityID(s), nil
}

// EntityIDTime extracts the creation time embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func EntityIDTime(id EntityID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
