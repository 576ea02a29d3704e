package session

import (
	"strings"

	"github.com/google/uuid"
)

// maxIDLength is the longest identifier accepted from a client.
const maxIDLength = 256

// IDGenerator produces new session identifiers. Identifiers must satisfy
// ValidID.
type IDGenerator interface {
	NewID() (string, error)
}

// UUIDGenerator issues 32 hex characters from a random (v4) UUID.
type UUIDGenerator struct{}

// NewID returns a fresh identifier.
func (UUIDGenerator) NewID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(u.String(), "-", ""), nil
}

// ValidID reports whether id is an acceptable session identifier: 1 to 256
// characters from [A-Za-z0-9,-].
func ValidID(id string) bool {
	if len(id) == 0 || len(id) > maxIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z',
			c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9',
			c == ',', c == '-':
		default:
			return false
		}
	}
	return true
}
