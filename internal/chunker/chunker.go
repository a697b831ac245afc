// Package chunker divides a stream of measurements into bins that close
// after a target number of samples or a maximum wall clock duration,
// whichever comes first, while letting any number of observers read the
// latest value or wait for the next one.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"
)

// ErrInvalidConfig is returned by New when a chunker parameter is out of range.
var ErrInvalidConfig = errors.New("chunker: invalid configuration")

// BinFinishedFunc receives the contents of a closed bin in push order.
// It runs synchronously with the push or timer that closed the bin and must
// not call back into the same Chunker.
type BinFinishedFunc[T any] func(bin []T)

// Option configures optional Chunker collaborators.
type Option func(*options)

type options struct {
	clock  clockz.Clock
	logger logrus.FieldLogger
}

// WithClock sets the clock used for the bin timer. Defaults to clockz.RealClock.
func WithClock(clock clockz.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Chunker accumulates pushed values into the current bin and hands each
// finished bin to its BinFinishedFunc.
type Chunker[T any] struct {
	name        string
	binFinished BinFinishedFunc[T]
	targetSize  int
	maxDuration time.Duration
	clock       clockz.Clock
	logger      logrus.FieldLogger

	mu       sync.Mutex
	bin      []T
	last     T
	hasLast  bool
	waiters  []*waiter[T]
	timer    clockz.Timer
	timerGen uint64
	stopped  bool
}

// waiter is a single-shot result slot. The channel is buffered so that
// resolving it never blocks the pushing goroutine.
type waiter[T any] struct {
	ch chan T
}

// New creates a Chunker and schedules the timer for its first bin.
func New[T any](name string, binFinished BinFinishedFunc[T], targetSize int, maxDuration time.Duration, opts ...Option) (*Chunker[T], error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidConfig)
	}
	if binFinished == nil {
		return nil, fmt.Errorf("%w: nil bin callback for %q", ErrInvalidConfig, name)
	}
	if targetSize <= 0 {
		return nil, fmt.Errorf("%w: target size %d for %q", ErrInvalidConfig, targetSize, name)
	}
	if maxDuration <= 0 {
		return nil, fmt.Errorf("%w: max duration %s for %q", ErrInvalidConfig, maxDuration, name)
	}

	o := options{
		clock:  clockz.RealClock,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Chunker[T]{
		name:        name,
		binFinished: binFinished,
		targetSize:  targetSize,
		maxDuration: maxDuration,
		clock:       o.clock,
		logger:      o.logger.WithField("channel", name),
		bin:         make([]T, 0, targetSize),
	}

	c.mu.Lock()
	c.scheduleLocked()
	c.mu.Unlock()

	return c, nil
}

// Name returns the channel name used in diagnostics.
func (c *Chunker[T]) Name() string { return c.name }

// TargetSize returns the number of values that closes a bin.
func (c *Chunker[T]) TargetSize() int { return c.targetSize }

// MaxDuration returns how long a bin may stay open.
func (c *Chunker[T]) MaxDuration() time.Duration { return c.maxDuration }

// Push appends value to the current bin, resolves every pending GetNew call
// with it and closes the bin if it reached the target size.
func (c *Chunker[T]) Push(value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bin = append(c.bin, value)
	c.last = value
	c.hasLast = true

	for _, w := range c.waiters {
		w.ch <- value
	}
	c.waiters = nil

	if len(c.bin) == c.targetSize {
		c.flushLocked()
	}
}

// GetLatest returns the most recently pushed value. If nothing has been
// pushed yet it waits for the first value like GetNew.
func (c *Chunker[T]) GetLatest(ctx context.Context) (T, error) {
	c.mu.Lock()
	if c.hasLast {
		v := c.last
		c.mu.Unlock()
		return v, nil
	}
	w := c.registerLocked()
	c.mu.Unlock()

	return c.await(ctx, w)
}

// GetNew waits for the next pushed value. The only error is ctx.Err() when
// the context ends before a value arrives.
func (c *Chunker[T]) GetNew(ctx context.Context) (T, error) {
	c.mu.Lock()
	w := c.registerLocked()
	c.mu.Unlock()

	return c.await(ctx, w)
}

// Stop cancels the bin timer. Values pushed afterwards are still accepted
// and size flushes still happen, but no time-based flush is scheduled.
func (c *Chunker[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (c *Chunker[T]) registerLocked() *waiter[T] {
	w := &waiter[T]{ch: make(chan T, 1)}
	c.waiters = append(c.waiters, w)
	return w
}

func (c *Chunker[T]) await(ctx context.Context, w *waiter[T]) (T, error) {
	select {
	case v := <-w.ch:
		return v, nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	removed := c.removeLocked(w)
	c.mu.Unlock()

	if !removed {
		// Resolved between ctx.Done and taking the lock.
		return <-w.ch, nil
	}
	var zero T
	return zero, ctx.Err()
}

func (c *Chunker[T]) removeLocked(w *waiter[T]) bool {
	for i, pending := range c.waiters {
		if pending == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Chunker[T]) flushLocked() {
	if len(c.bin) == 0 {
		panic(fmt.Sprintf("chunker: cannot finish empty bin for channel %q", c.name))
	}

	c.timer.Stop()

	bin := c.bin
	c.bin = make([]T, 0, c.targetSize)
	c.binFinished(bin)

	c.scheduleLocked()
}

func (c *Chunker[T]) scheduleLocked() {
	if c.stopped {
		return
	}
	c.timerGen++
	gen := c.timerGen
	c.timer = c.clock.AfterFunc(c.maxDuration, func() {
		c.timeoutElapsed(gen)
	})
}

func (c *Chunker[T]) timeoutElapsed(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A size flush rescheduled the timer after this one already fired.
	if c.stopped || gen != c.timerGen {
		return
	}

	if len(c.bin) > 0 {
		c.flushLocked()
		return
	}

	c.logger.Debugf("chunker: no data for channel %q in last %s", c.name, c.maxDuration)
	c.scheduleLocked()
}
