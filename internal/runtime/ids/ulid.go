package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// It names the messages handed to group transports.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewEventBusID returns a random identifier for one running event bus.
func NewEventBusID() uuid.UUID {
	return uuid.New()
}

// ParseEventBusID parses the textual form produced by uuid.UUID.String.
func ParseEventBusID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
