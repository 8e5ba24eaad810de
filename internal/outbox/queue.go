// Package outbox implements the bounded per-session outbound queue that sits
// between the dispatch router and a connection's writer.
package outbox

import (
	"context"
	"errors"
	"sync"

	"service-dispatch/internal/domain"
)

// ErrClosed is returned by Next once the queue is closed and drained.
var ErrClosed = errors.New("outbox closed")

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 64

// Queue is a bounded FIFO of outbound messages. Push never blocks: on overflow
// the oldest queued location update is discarded to make room. Messages of other
// types are never discarded; if the queue holds nothing but such messages a push
// fails instead.
type Queue struct {
	mu       sync.Mutex
	items    []domain.Message
	capacity int
	closed   bool
	notify   chan struct{}
	done     chan struct{}
	dropped  uint64
	onDrop   func(domain.Message)
}

// New creates a queue. onDrop, if not nil, is called (outside the lock) for every
// message discarded or refused because of back-pressure.
func New(capacity int, onDrop func(domain.Message)) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:    make([]domain.Message, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		onDrop:   onDrop,
	}
}

// Push enqueues m and reports whether it was accepted.
func (q *Queue) Push(m domain.Message) bool {
	var victim *domain.Message
	accepted := true

	q.mu.Lock()
	switch {
	case q.closed:
		q.mu.Unlock()
		return false
	case len(q.items) < q.capacity:
		q.items = append(q.items, m)
	default:
		if i := q.oldestLocation(); i >= 0 {
			v := q.items[i]
			victim = &v
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.items = append(q.items, m)
		} else {
			victim = &m
			accepted = false
		}
		q.dropped++
	}
	q.mu.Unlock()

	if accepted {
		q.signal()
	}
	if victim != nil && q.onDrop != nil {
		q.onDrop(*victim)
	}
	return accepted
}

func (q *Queue) oldestLocation() int {
	for i := range q.items {
		if q.items[i].IsLocation() {
			return i
		}
	}
	return -1
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a message is available, the queue is closed and drained, or
// ctx is done. Messages queued before Close are still returned.
func (q *Queue) Next(ctx context.Context) (domain.Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items[0] = domain.Message{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return m, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return domain.Message{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return domain.Message{}, ctx.Err()
		case <-q.notify:
		case <-q.done:
		}
	}
}

// Close stops accepting messages. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Done is closed when the queue is closed.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many messages were discarded or refused.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Drain removes and returns every queued message without blocking.
func (q *Queue) Drain() []domain.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = make([]domain.Message, 0, q.capacity)
	return out
}
