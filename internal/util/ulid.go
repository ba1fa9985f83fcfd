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

// NewID returns a ULID for webhooks and delivery attempts. IDs minted in the
// same millisecond still sort in creation order.
func NewID() string {
	return NewIDAt(time.Now())
}

func NewIDAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewSubscriptionID returns a random UUID.
func NewSubscriptionID() string {
	return uuid.NewString()
}

// ValidSubscriptionID reports whether s parses as a UUID.
func ValidSubscriptionID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
