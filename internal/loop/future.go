// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loop

import (
	"context"
	"sync"
)

// Future is the eventual result of an operation run through a Loop.
// A Future resolves exactly once; later Resolve or Reject calls are ignored.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// NewFuture creates an unresolved Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved creates a Future that already holds val.
func Resolved[T any](val T) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(val)
	return f
}

// Resolve completes the future with val.
func (f *Future[T]) Resolve(val T) {
	f.once.Do(func() {
		f.val = val
		close(f.done)
	})
}

// Reject completes the future with err.
func (f *Future[T]) Reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed when the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
