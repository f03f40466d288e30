// Package lazy provides Deferred, a memoizing single-shot cell over a
// fallible computation.
//
// A Deferred runs its producer the first time it is observed. Concurrent
// observers that arrive before the producer returns wait for that same
// invocation; every later observer gets the cached value or error.
// Producers may return another deferred value, in which case resolution
// continues through it so observers only ever see concrete values.
package lazy

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State of a Deferred.
type State int

const (
	Pending State = iota
	Running
	Fulfilled
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrNilProducer is returned by a Deferred built without a producer.
var ErrNilProducer = errors.New("lazy: nil producer")

// Resolver is implemented by every deferred value regardless of its type
// parameter. Resolve uses it to flatten nested deferreds.
type Resolver interface {
	ResolveAny(ctx context.Context) (any, error)
}

// Producer computes the value of a Deferred.
type Producer[T any] func(ctx context.Context) (T, error)

// Deferred is a lazily computed, memoized value. The zero value is not
// usable; construct with New or Value.
type Deferred[T any] struct {
	mu    sync.Mutex
	fn    Producer[T]
	state State
	done  chan struct{}
	val   T
	err   error
}

// New returns a pending Deferred that will run fn on first observation.
func New[T any](fn Producer[T]) *Deferred[T] {
	return &Deferred[T]{fn: fn, done: make(chan struct{})}
}

// Value returns an already fulfilled Deferred.
func Value[T any](v T) *Deferred[T] {
	d := &Deferred[T]{state: Fulfilled, val: v, done: make(chan struct{})}
	close(d.done)
	return d
}

// Failed returns an already rejected Deferred.
func Failed[T any](err error) *Deferred[T] {
	d := &Deferred[T]{state: Rejected, err: err, done: make(chan struct{})}
	close(d.done)
	return d
}

// State reports the current state without triggering the producer.
func (d *Deferred[T]) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Get resolves the value, starting the producer if nobody has yet.
//
// The producer runs on its own goroutine with a context that keeps ctx's
// values but not its cancellation. If ctx is done first, Get returns
// ctx.Err() while the producer keeps running; later observers still see
// its outcome.
func (d *Deferred[T]) Get(ctx context.Context) (T, error) {
	d.start(ctx)

	select {
	case <-d.done:
		return d.val, d.err
	default:
	}
	select {
	case <-d.done:
		return d.val, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (d *Deferred[T]) start(ctx context.Context) {
	d.mu.Lock()
	if d.state != Pending {
		d.mu.Unlock()
		return
	}
	d.state = Running
	fn := d.fn
	d.fn = nil
	d.mu.Unlock()

	go d.settle(context.WithoutCancel(ctx), fn)
}

func (d *Deferred[T]) settle(ctx context.Context, fn Producer[T]) {
	val, err := d.run(ctx, fn)

	d.mu.Lock()
	d.val, d.err = val, err
	if err != nil {
		d.state = Rejected
	} else {
		d.state = Fulfilled
	}
	close(d.done)
	d.mu.Unlock()
}

// Done is closed once the Deferred is settled.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// ResolveAny implements Resolver.
func (d *Deferred[T]) ResolveAny(ctx context.Context) (any, error) {
	return d.Get(ctx)
}

func (d *Deferred[T]) run(ctx context.Context, fn Producer[T]) (val T, err error) {
	if fn == nil {
		return val, ErrNilProducer
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lazy: producer panic: %v", r)
		}
	}()

	val, err = fn(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	// Flatten nested deferreds.
	if inner, ok := any(val).(Resolver); ok {
		flat, err := Resolve(ctx, inner)
		if err != nil {
			var zero T
			return zero, err
		}
		if flat == nil {
			var zero T
			return zero, nil
		}
		typed, ok := flat.(T)
		if !ok {
			var zero T
			return zero, fmt.Errorf("lazy: nested value of type %T is not assignable to %T", flat, zero)
		}
		return typed, nil
	}
	return val, nil
}

// Resolve returns v unchanged unless it is a deferred value, in which case
// it is resolved, repeatedly, until a concrete value or an error remains.
func Resolve(ctx context.Context, v any) (any, error) {
	for {
		r, ok := v.(Resolver)
		if !ok {
			return v, nil
		}
		next, err := r.ResolveAny(ctx)
		if err != nil {
			return nil, err
		}
		v = next
	}
}

// Then derives a new Deferred whose producer waits for d and feeds its value
// to fn. d is not observed until the result is.
func Then[T, U any](d *Deferred[T], fn func(ctx context.Context, v T) (U, error)) *Deferred[U] {
	return New(func(ctx context.Context) (U, error) {
		v, err := d.Get(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return fn(ctx, v)
	})
}
