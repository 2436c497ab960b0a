package queue

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Policy decides what happens when Push finds the queue full.
type Policy int

const (
	// DropOldest evicts the oldest queued item to make room for the new one.
	DropOldest Policy = iota
	// DropNew rejects the incoming item and keeps the queue unchanged.
	DropNew
)

var (
	// ErrClosed is returned by Push after Close.
	ErrClosed = errors.New("queue closed")
	// ErrOverflow is returned by Push when a DropNew queue is full.
	ErrOverflow = errors.New("queue full")
)

// ParsePolicy parses "drop_oldest" or "drop_new".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop_oldest", "drop-oldest", "oldest":
		return DropOldest, nil
	case "drop_new", "drop-new", "drop_newest", "new":
		return DropNew, nil
	}
	return 0, fmt.Errorf("unknown overflow policy %q", s)
}

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNew:
		return "drop_new"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// Bounded is a thread-safe FIFO ring buffer with a fixed capacity.
// Push never blocks; a full queue applies its overflow Policy.
type Bounded[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int // read position
	tail   int // write position
	count  int
	policy Policy
	closed bool
	ready  chan struct{}

	// Stats
	totalPushed  int64
	totalPopped  int64
	totalDropped int64
}

// New creates a queue holding at most capacity items.
func New[T any](capacity int, policy Policy) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{
		buf:    make([]T, capacity),
		policy: policy,
		ready:  make(chan struct{}, 1),
	}
}

// Push appends item. When the queue is full, DropOldest evicts and returns the
// oldest item with dropped set to true; DropNew returns ErrOverflow.
// Push returns ErrClosed once the queue is closed.
func (q *Bounded[T]) Push(item T) (evicted T, dropped bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return evicted, false, ErrClosed
	}

	if q.count == len(q.buf) {
		if q.policy == DropNew {
			q.totalDropped++
			return evicted, false, ErrOverflow
		}
		evicted = q.popLocked()
		q.totalPopped--
		dropped = true
		q.totalDropped++
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.totalPushed++

	q.signal()
	return evicted, dropped, nil
}

// TryPop removes and returns the oldest item without blocking.
func (q *Bounded[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// popLocked must be called with the lock held and count > 0.
func (q *Bounded[T]) popLocked() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.totalPopped++
	return item
}

// Ready returns a channel that receives a value after items are pushed or the
// queue is closed. Consumers drain with TryPop after each wake-up.
func (q *Bounded[T]) Ready() <-chan struct{} {
	return q.ready
}

func (q *Bounded[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Close stops accepting new items. Queued items remain available to TryPop.
func (q *Bounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.signal()
}

// Closed reports whether Close was called.
func (q *Bounded[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Discard removes every queued item and returns how many were removed.
func (q *Bounded[T]) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	var zero T
	for i := range q.buf {
		q.buf[i] = zero
	}
	q.head, q.tail, q.count = 0, 0, 0
	q.totalDropped += int64(n)
	return n
}

// DrainTo removes up to max items (all if max <= 0) in FIFO order.
func (q *Bounded[T]) DrainTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	n := q.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = q.popLocked()
	}
	return result
}

// Len returns the current number of items in the queue.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the capacity of the queue.
func (q *Bounded[T]) Cap() int {
	return len(q.buf)
}

// Stats returns queue statistics.
func (q *Bounded[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:        q.count,
		Capacity:     len(q.buf),
		TotalPushed:  q.totalPushed,
		TotalPopped:  q.totalPopped,
		TotalDropped: q.totalDropped,
	}
}

// Stats contains queue statistics.
type Stats struct {
	Count        int
	Capacity     int
	TotalPushed  int64
	TotalPopped  int64
	TotalDropped int64
}
