// Package deferred provides a single-assignment completion box bridging
// synchronous blocking callers and asynchronous producers.
package deferred

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadySettled is returned when Complete or Fail is called on a box
// that has already been settled. Settling twice is a programming error.
var ErrAlreadySettled = errors.New("deferred: already settled")

// Deferred holds either a result or an error, assigned exactly once.
// A producer calls Complete or Fail; any number of consumers block on
// Await (or select on Done). An optional callback fires at most once,
// immediately after settlement, on the producer's goroutine.
//
// The zero value is not usable; call New.
type Deferred[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	settled  bool
	value    T
	err      error
	callback func(T, error)
}

// New returns an unsettled box.
func New[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Complete settles the box with a value. Returns ErrAlreadySettled if the
// box was settled before.
func (d *Deferred[T]) Complete(v T) error {
	return d.settle(v, nil)
}

// Fail settles the box with an error. Returns ErrAlreadySettled if the
// box was settled before.
func (d *Deferred[T]) Fail(err error) error {
	var zero T
	return d.settle(zero, err)
}

func (d *Deferred[T]) settle(v T, err error) error {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return ErrAlreadySettled
	}
	d.settled = true
	d.value, d.err = v, err
	cb := d.callback
	d.callback = nil
	close(d.done)
	d.mu.Unlock()

	if cb != nil {
		cb(v, err)
	}
	return nil
}

// SetCallback registers a function invoked once with the settled result.
// If the box is already settled, the callback runs immediately on the
// calling goroutine. A second SetCallback replaces an unfired callback.
func (d *Deferred[T]) SetCallback(cb func(T, error)) {
	d.mu.Lock()
	if !d.settled {
		d.callback = cb
		d.mu.Unlock()
		return
	}
	v, err := d.value, d.err
	d.mu.Unlock()
	cb(v, err)
}

// Await blocks until the box is settled and returns its result.
func (d *Deferred[T]) Await() (T, error) {
	<-d.done
	return d.value, d.err
}

// AwaitContext blocks until the box is settled or ctx is done.
func (d *Deferred[T]) AwaitContext(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel closed when the box settles, for select-based
// consumers.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}
