package socklib

import (
	"sync"

	"github.com/eapache/queue"
)

// PendingQueue is a FIFO hand-off between one producer goroutine and any
// number of consumers. Consumers may poll it or block until an item arrives
// or the queue is closed.
type PendingQueue[T any] struct {
	mu     sync.Mutex
	cond   sync.Cond
	items  *queue.Queue
	closed bool
}

func NewPendingQueue[T any]() *PendingQueue[T] {
	q := &PendingQueue[T]{items: queue.New()}
	q.cond.L = &q.mu
	return q
}

// Push appends v and wakes one waiting consumer. It reports false if the
// queue has been closed, in which case v is not queued.
func (q *PendingQueue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items.Add(v)
	q.cond.Signal()
	return true
}

// TryPop removes and returns the oldest item without blocking.
func (q *PendingQueue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pop()
}

// Pop blocks until an item is available or the queue is closed. Items pushed
// before Close are still handed out; false means closed and empty.
func (q *PendingQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && q.items.Length() == 0 {
		q.cond.Wait()
	}
	return q.pop()
}

func (q *PendingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

func (q *PendingQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further pushes and wakes every blocked consumer.
func (q *PendingQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Drain removes and returns every queued item, oldest first.
func (q *PendingQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	var items []T
	for q.items.Length() > 0 {
		items = append(items, q.items.Remove().(T))
	}
	return items
}

func (q *PendingQueue[T]) pop() (T, bool) {
	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.items.Remove().(T), true
}
