// Package future provides a single-assignment result that is completed
// asynchronously and read by any number of waiters.
package future

import (
	"context"
	"sync"
)

// Future holds the eventual outcome of an asynchronous operation.
// The first call to Complete or Fail wins; later calls are no-ops.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New returns an unresolved future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future already resolved with v.
func Completed[T any](v T) *Future[T] {
	f := New[T]()
	f.Complete(v)
	return f
}

// Failed returns a future already resolved with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Go runs fn on a new goroutine and resolves the future with its result.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := New[T]()
	go func() {
		v, err := fn()
		f.Resolve(v, err)
	}()
	return f
}

// Complete resolves the future with a value. It reports whether this call
// resolved it.
func (f *Future[T]) Complete(v T) bool {
	return f.Resolve(v, nil)
}

// Fail resolves the future with an error. It reports whether this call
// resolved it.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.Resolve(zero, err)
}

// Resolve sets both value and error in one step.
func (f *Future[T]) Resolve(v T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value = v
		f.err = err
		resolved = true
		close(f.done)
	})
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has been resolved.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get blocks until the future resolves or ctx is done. Abandoning the wait
// does not cancel the underlying operation.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Map derives a future by applying fn to a successful result. Errors pass
// through untouched.
func Map[A, B any](f *Future[A], fn func(A) (B, error)) *Future[B] {
	out := New[B]()
	go func() {
		<-f.done
		if f.err != nil {
			out.Fail(f.err)
			return
		}
		out.Resolve(fn(f.value))
	}()
	return out
}
