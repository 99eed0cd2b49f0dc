// Package uid generates the opaque identifiers used for upload sessions
// and object-store blobs.
package uid

import "github.com/google/uuid"

// New returns a fresh opaque identifier suitable for a session id or an
// object-store upload identifier. Callers must not assume any structure
// beyond "unique and URL-safe".
func New() string {
	return uuid.NewString()
}
