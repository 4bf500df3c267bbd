package session

import (
	"sync"

	"github.com/gammazero/deque"
)

// queue is the writer task's inbox: a multi-producer, single-consumer FIFO
// that is never bounded at creation, unlike a Go channel. External-client
// handlers and the session's own reader goroutine all push onto it; only
// the writer goroutine pops.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	dq     deque.Deque[any]
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues v. It is a no-op once the queue is closed.
func (q *queue) push(v any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.dq.PushBack(v)
	q.cond.Signal()
}

// pop blocks until an item is available or the queue is closed, in which
// case ok is false.
func (q *queue) pop() (v any, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.dq.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.dq.Len() == 0 {
		return nil, false
	}
	return q.dq.PopFront(), true
}

// tryPop pops without blocking; ok is false if the queue is currently
// empty. This backs the writer's batching discipline: drain everything
// already enqueued before flushing.
func (q *queue) tryPop() (v any, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dq.Len() == 0 {
		return nil, false
	}
	return q.dq.PopFront(), true
}

// close wakes any blocked pop and makes all further push calls no-ops.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
