package agent

import (
	"sync"

	"github.com/gammazero/deque"
)

// queue is the writer goroutine's inbox, mirroring session's: an unbounded
// multi-producer, single-consumer FIFO backed by gammazero/deque, since a
// Go channel can't be grown after creation and the writer must never
// apply back-pressure to a per-client pump goroutine just because the
// socket to the rendezvous is momentarily slow.
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

func (q *queue) push(v any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.dq.PushBack(v)
	q.cond.Signal()
}

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

func (q *queue) tryPop() (v any, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dq.Len() == 0 {
		return nil, false
	}
	return q.dq.PopFront(), true
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
