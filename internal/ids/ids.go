package ids

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// StreamPrefix is the prefix for stream IDs.
	StreamPrefix = "str-"
	// AuditPrefix is the prefix for audit entry IDs.
	AuditPrefix = "aud-"
)

// NewStreamID generates a new stream ID: str-<uuidv7>.
// UUIDv7 is time-ordered, so IDs sort by creation time.
func NewStreamID() string {
	return StreamPrefix + uuid.Must(uuid.NewV7()).String()
}

// NewAuditID generates a new audit entry ID.
func NewAuditID() string {
	return AuditPrefix + uuid.Must(uuid.NewV7()).String()
}

// IsValidStreamID checks if a string is a valid stream ID.
func IsValidStreamID(id string) bool {
	return hasPrefixedUUID(id, StreamPrefix)
}

func hasPrefixedUUID(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

// IsValidMemorialID checks that a memorial reference is usable as a key.
// Memorial IDs are minted by the surrounding application, so only the
// shape is checked.
func IsValidMemorialID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
