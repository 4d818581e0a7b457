package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCache wraps every failed cache operation.
	ErrCache = errors.New("cache error")
	// ErrWrongType is returned for a list operation on a value key or the
	// other way round.
	ErrWrongType = errors.New("operation against a key holding the wrong kind of value")
)

// Backend is the synchronous store behind the Cache facade. Its semantics
// follow Redis: lists are created by Push and removed when emptied, Set
// replaces any previous value and its expiry.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Push appends to the list at key and returns its new length.
	Push(ctx context.Context, key, value string) (int64, error)
	Range(ctx context.Context, key string) ([]string, error)
	// RemoveFromList removes occurrences of value: count > 0 from the head,
	// count < 0 from the tail, 0 all of them. It returns how many went.
	RemoveFromList(ctx context.Context, key, value string, count int64) (int64, error)
	Delete(ctx context.Context, key string) (bool, error)
	// DeletePrefix removes every key matching prefix + ":*".
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}
