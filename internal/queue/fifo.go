package queue

import (
	"sync"
	"time"
)

const initialCapacity = 16

// FIFO is an unbounded, concurrency-safe circular queue. Producers never
// block; consumers may wait for an element with a bounded timeout.
type FIFO[T any] struct {
	mu       sync.Mutex
	data     []T
	head     int
	tail     int
	size     int
	notEmpty chan struct{}
}

// NewFIFO creates an empty queue.
func NewFIFO[T any]() *FIFO[T] {
	return &FIFO[T]{
		data:     make([]T, initialCapacity),
		notEmpty: make(chan struct{}, 1),
	}
}

// Put pushes an element to the back. It never blocks.
func (q *FIFO[T]) Put(v T) {
	q.mu.Lock()
	if q.size == len(q.data) {
		q.grow()
	}
	q.data[q.tail] = v
	q.tail = (q.tail + 1) % len(q.data)
	q.size++
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// TryGet pops the front element, if any.
func (q *FIFO[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeue()
}

// Poll waits up to timeout for an element. The second return value is false
// on timeout.
func (q *FIFO[T]) Poll(timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if v, ok := q.TryGet(); ok {
			return v, true
		}
		select {
		case <-q.notEmpty:
		case <-timer.C:
			return q.TryGet()
		}
	}
}

// Drain removes and returns every queued element.
func (q *FIFO[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, 0, q.size)
	for {
		v, ok := q.dequeue()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Len returns the current length of the queue
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *FIFO[T]) dequeue() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	v := q.data[q.head]
	q.data[q.head] = zero // to favor garbage collection
	q.head = (q.head + 1) % len(q.data)
	q.size--
	return v, true
}

// grow doubles the capacity, unrolling the ring so that head is at index 0.
func (q *FIFO[T]) grow() {
	data := make([]T, 2*len(q.data))
	n := copy(data, q.data[q.head:])
	copy(data[n:], q.data[:q.head])
	q.data = data
	q.head = 0
	q.tail = q.size
}
