// Package async provides the completion and scheduling primitives shared by
// the preferences and relational stores.
//
// Every store operation produces one Future. Callers consume it through
// exactly one of two adapters: Await, which blocks the caller, or Then, which
// delivers (value, error) to a callback exactly once.
package async

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/roach88/datakit/internal/storeerr"
)

type consumer int32

const (
	consumerNone consumer = iota
	consumerAwait
	consumerCallback
)

// Future is the result of an operation that completes at most once.
type Future[T any] struct {
	doneCh  chan struct{}
	once    sync.Once
	val     T
	err     error
	claimed atomic.Int32
}

// NewFuture returns an unresolved Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{doneCh: make(chan struct{})}
}

// Resolved returns a Future already completed with (val, err).
func Resolved[T any](val T, err error) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(val, err)
	return f
}

// Failed returns a Future already completed with err.
func Failed[T any](err error) *Future[T] {
	var zero T
	return Resolved(zero, err)
}

// Resolve completes the future. Only the first call has any effect.
func (f *Future[T]) Resolve(val T, err error) {
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.doneCh)
	})
}

// Done selects when the future is resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.doneCh }

// Await blocks until the future resolves or ctx is done. A cancelled wait
// does not cancel the operation itself; it still runs to completion.
//
// Await may be called any number of times, but not after Then.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	var zero T
	if !f.claim(consumerAwait) {
		return zero, storeerr.New(storeerr.CodeAlreadyConsumed, "future is bound to a callback")
	}
	select {
	case <-f.doneCh:
		return f.val, f.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Then registers cb to receive the result. cb runs exactly once, on its own
// goroutine, after the future resolves. Then fails if the future already has
// a consumer.
func (f *Future[T]) Then(cb func(T, error)) error {
	if !f.claimed.CompareAndSwap(int32(consumerNone), int32(consumerCallback)) {
		return storeerr.New(storeerr.CodeAlreadyConsumed, "future already has a consumer")
	}
	go func() {
		<-f.doneCh
		cb(f.val, f.err)
	}()
	return nil
}

func (f *Future[T]) claim(c consumer) bool {
	if f.claimed.CompareAndSwap(int32(consumerNone), int32(c)) {
		return true
	}
	return consumer(f.claimed.Load()) == c
}
