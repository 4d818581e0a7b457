// Package persistence is the document store contract game logic persists
// player data through, with a Redis adapter and an in-memory one.
package persistence

import (
	"context"
	"errors"
)

// ErrNotStarted is returned by providers used before Start.
var ErrNotStarted = errors.New("persistence provider not started")

// Provider stores documents of one collection by key.
type Provider[T any] interface {
	Start(ctx context.Context) error
	Save(ctx context.Context, key string, doc T) error
	// Get reports false when key has no document.
	Get(ctx context.Context, key string) (T, bool, error)
	// GetAll returns every document ordered by key.
	GetAll(ctx context.Context) ([]T, error)
}
