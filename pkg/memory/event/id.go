package event

import (
	"crypto/rand"
	"fmt"
	"time"
)

var timeNow = time.Now // injected for testability

// NewEventID generates a unique, creation-time sortable event identifier.
// The zero-padded nanosecond timestamp makes IDs (and therefore event
// filenames) sort lexically in creation order; the random suffix keeps
// concurrent appends from different processes collision-free without a lock.
func NewEventID() string {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		// The OS crypto source failing is a critical unrecoverable
		// application state.
		panic(fmt.Errorf("crypto/rand failed: %w", err))
	}
	return fmt.Sprintf("evt_%019d_%02x%02x", timeNow().UnixNano(), b[0], b[1])
}
