package storage

import "github.com/google/uuid"

// newJobID returns a fresh job identifier. UUIDv4 keeps identifiers unique
// across restarts without any coordination through the datastore.
func newJobID() string {
	return uuid.NewString()
}
