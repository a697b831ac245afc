package influx

import "context"

// DefaultQueueSize is the number of points that can wait for delivery.
const DefaultQueueSize = 128

// Queue is a bounded FIFO of points. Any number of goroutines may enqueue;
// exactly one drain loop dequeues.
type Queue struct {
	ch chan Point
}

// NewQueue creates a queue holding at most size points.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Point, size)}
}

// TryEnqueue adds pt without blocking. It reports false when the queue is full.
func (q *Queue) TryEnqueue(pt Point) bool {
	select {
	case q.ch <- pt:
		return true
	default:
		return false
	}
}

// Dequeue waits for the next point. It reports false when ctx ends first.
func (q *Queue) Dequeue(ctx context.Context) (Point, bool) {
	select {
	case pt := <-q.ch:
		return pt, true
	case <-ctx.Done():
		return Point{}, false
	}
}

// Len returns the number of points waiting.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the maximum number of waiting points.
func (q *Queue) Cap() int { return cap(q.ch) }
