package storage

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the expiry applied when a caller passes a non-positive TTL and
// SetDefaultTTL was never called.
const DefaultTTL = 60 * time.Second

var (
	// ErrUnavailable indicates the backend could not serve the command.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrWrongType indicates the key holds a value of another kind.
	ErrWrongType = errors.New("storage key holds the wrong kind of value")
	// ErrNotInteger indicates an increment on a value that is not an integer.
	ErrNotInteger = errors.New("storage value is not an integer")
)

// Backend is the capability set the lockout engine requires.
//
// A non-positive ttl means "use the default TTL". Implementations must be
// safe for concurrent use.
type Backend interface {
	// Set stores value under key, expiring after ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value under key. found is false when the key is absent
	// or expired.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Inc atomically adds by (1 when zero) to the integer under key, treating
	// an absent key as 0, then resets the key's TTL to ttl.
	Inc(ctx context.Context, key string, by int64, ttl time.Duration) error
	// SAdd adds member to the set under key, creating it when absent, and
	// refreshes the set's TTL.
	SAdd(ctx context.Context, key, member string, ttl time.Duration) error
	// SMembers lists the set under key. A missing key yields an empty slice.
	SMembers(ctx context.Context, key string) ([]string, error)
	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
	// Clear removes every key owned by the backend.
	Clear(ctx context.Context) error
	// SetDefaultTTL changes the TTL used when a caller omits one.
	SetDefaultTTL(ttl time.Duration)
}

func incrementBy(by int64) int64 {
	if by == 0 {
		return 1
	}
	return by
}
