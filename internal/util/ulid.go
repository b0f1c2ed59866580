package util

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

// New generates a new ULID string. IDs generated in the same millisecond stay sortable.
func New() string {
	return NewAt(time.Now())
}

// NewAt generates a ULID with the given timestamp.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewLease returns a random token identifying one claim of a delivery.
func NewLease() string {
	return uuid.NewString()
}
