// Package idgen generates content and participant identifiers.
//
// Ids are collision-resistant for the lifetime of a session only; the
// engine never relies on any cryptographic property of an id.
package idgen

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewContentID returns a fresh, opaque content id for a produced artifact.
func NewContentID() string {
	return newID()
}

// NewParticipantID returns a fresh, opaque participant id, assigned by the
// tracker when a participant connects.
func NewParticipantID() string {
	return newID()
}

func newID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString())
}
