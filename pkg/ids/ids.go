// Package ids generates lexicographically sortable entity identifiers.
//
// All entity ids in the system (events, commands, runs, cards, decisions,
// artifacts) are ULIDs: a 48-bit millisecond timestamp followed by 80 bits
// of crypto-random entropy, base32-encoded. Ordering by id string therefore
// approximates ordering by creation time, with random tie-breaks for equal
// timestamps — exactly the property the event log's composite
// (ts, event_id) cursor relies on.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropy is shared across calls; ulid.Monotonic wraps a reader with a
// monotonic counter so ids generated within the same millisecond still sort
// correctly relative to each other.
var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new ULID string for the current instant.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewAt returns a new ULID string for a specific instant. Used by tests and
// by the sweeper/replay paths that operate on an explicit "now".
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
