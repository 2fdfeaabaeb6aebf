// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package loop provides the single goroutine that owns all cache mutation,
// plus a bounded pool of worker goroutines for blocking I/O.
//
// Work that touches shared state is posted to the loop with Post and runs
// strictly one task at a time in submission order. Blocking calls (database,
// external services) run on workers via Go, and their completions are posted
// back to the loop before they may touch any cache.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"
	"golang.org/x/sync/semaphore"
)

// ErrStopped is returned when work is submitted to a loop that is not running.
var ErrStopped = errors.New("loop stopped")

// Default sizing values.
const (
	DefaultQueueSize = 1024
	DefaultWorkers   = 16
)

// Config configures a Loop.
type Config struct {
	// QueueSize bounds the number of tasks waiting for the loop goroutine.
	// Defaults to DefaultQueueSize if zero or negative.
	QueueSize int

	// Workers bounds the number of concurrent blocking calls.
	// Defaults to DefaultWorkers if zero or negative.
	Workers int

	// Logger receives panic reports from tasks. Defaults to slog.Default().
	Logger *slog.Logger
}

// Loop is a single-goroutine executor. The zero value is not usable; create
// one with New and start it with Run.
type Loop struct {
	tasks   chan func()
	workers *semaphore.Weighted
	logger  *slog.Logger

	mu      sync.RWMutex // guards running
	running bool
	started atomic.Bool
	ready   chan struct{}
	quit    chan struct{}
	stopped chan struct{}

	inflight sync.WaitGroup
}

// New creates a Loop. Call Run to start processing.
func New(cfg Config) *Loop {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		tasks:   make(chan func(), cfg.QueueSize),
		workers: semaphore.NewWeighted(int64(cfg.Workers)),
		logger:  cfg.Logger,
		ready:   make(chan struct{}),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run processes tasks until ctx is cancelled. Tasks already queued when ctx
// is cancelled still run; later Post calls fail with ErrStopped. Run waits for
// in-flight worker calls to return before it returns. Run may only be called
// once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return oops.Errorf("loop already started")
	}

	l.mu.Lock()
	l.running = true
	l.mu.Unlock()
	close(l.ready)

	defer l.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) shutdown() {
	close(l.quit)

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()

	for drained := false; !drained; {
		select {
		case fn := <-l.tasks:
			l.exec(fn)
		default:
			drained = true
		}
	}

	l.inflight.Wait()
	close(l.stopped)
}

// Running reports whether Run is currently processing tasks.
func (l *Loop) Running() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// Ready returns a channel closed once Run has started accepting tasks.
func (l *Loop) Ready() <-chan struct{} {
	return l.ready
}

// QueueDepth returns the number of tasks waiting for the loop goroutine.
func (l *Loop) QueueDepth() int {
	return len(l.tasks)
}

// Stopped returns a channel closed once Run has returned.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}

// Post enqueues fn to run on the loop goroutine. It returns ErrStopped if the
// loop is not running. Post blocks while the queue is full.
func (l *Loop) Post(fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.running {
		return ErrStopped
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.quit:
		return ErrStopped
	}
}

// PostAsync enqueues fn without blocking the caller, which makes it safe to
// use from the loop goroutine itself. If the loop is not running, abandon
// (if non-nil) receives ErrStopped.
func (l *Loop) PostAsync(fn func(), abandon func(error)) {
	l.spawn(func() { l.complete(fn, abandon) }, abandon)
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", "panic", r)
		}
	}()
	fn()
}

// Go runs call on a worker goroutine and then runs done with its result on
// the loop goroutine. If the loop is not running, or stops before done can be
// posted, done is not called and abandon (if non-nil) receives ErrStopped.
func Go[T any](l *Loop, ctx context.Context, call func(context.Context) (T, error), done func(T, error), abandon func(error)) {
	l.spawn(func() {
		var val T
		err := l.workers.Acquire(ctx, 1)
		if err == nil {
			val, err = call(ctx)
			l.workers.Release(1)
		}
		l.complete(func() { done(val, err) }, abandon)
	}, abandon)
}

// Await runs done on the loop goroutine once f resolves. Waiting does not
// hold a worker slot, so loop code may chain on futures produced by other
// loop users.
func Await[T any](l *Loop, f *Future[T], done func(T, error), abandon func(error)) {
	l.spawn(func() {
		select {
		case <-f.Done():
			val, err := f.Wait(context.Background())
			l.complete(func() { done(val, err) }, abandon)
		case <-l.quit:
			if abandon != nil {
				abandon(ErrStopped)
			}
		}
	}, abandon)
}

// spawn starts fn on a tracked goroutine, or abandons if the loop is not
// running.
func (l *Loop) spawn(fn func(), abandon func(error)) {
	l.mu.RLock()
	if !l.running {
		l.mu.RUnlock()
		if abandon != nil {
			abandon(ErrStopped)
		}
		return
	}
	l.inflight.Add(1)
	l.mu.RUnlock()

	go func() {
		defer l.inflight.Done()
		fn()
	}()
}

func (l *Loop) complete(fn func(), abandon func(error)) {
	if err := l.Post(fn); err != nil && abandon != nil {
		abandon(err)
	}
}
