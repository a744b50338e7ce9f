package idempotency

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
)

const (
	DefaultProcessingTTL = 24 * time.Hour
	DefaultResultTTL     = time.Hour
)

// Record is what a key maps to while reserved.
type Record struct {
	State      State  `json:"state"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       []byte `json:"body,omitempty"`
}

// Store reserves idempotency keys. CheckAndReserve must be a single atomic
// compare-and-set on the backing store.
type Store interface {
	CheckAndReserve(ctx context.Context, key string) error
	StoreResult(ctx context.Context, key string, result Record) error
	Release(ctx context.Context, key string) error
	Lookup(ctx context.Context, key string) (*Record, error)
}

// Sweeper is implemented by stores that hold expired keys until swept.
// Stores with native expiry, such as redis, do not implement it.
type Sweeper interface {
	Sweep() int
}

var (
	ErrDuplicateRequest = errors.New("duplicate_request")
	ErrInvalidKey       = errors.New("invalid_idempotency_key")
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidKey reports whether key is usable as an idempotency key.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// NormalizeKey trims key and validates its shape.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if !ValidKey(key) {
		return "", ErrInvalidKey
	}
	return key, nil
}
