package session

import "sync"

// eventQueue runs subscriber callbacks in order on a goroutine of its own,
// so a callback may call back into the session (Stop included).
// Push never blocks.
type eventQueue struct {
	mu      sync.Mutex
	idle    *sync.Cond
	pending []func()
	running bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.idle = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(f func()) {
	q.mu.Lock()
	q.pending = append(q.pending, f)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.deliver()
}

// deliver exits once the queue is empty; push starts a new one as needed
func (q *eventQueue) deliver() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		f := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		f()
	}
}

// wait blocks until every queued callback has run. It must not be called
// from a callback.
func (q *eventQueue) wait() {
	q.mu.Lock()
	for q.running {
		q.idle.Wait()
	}
	q.mu.Unlock()
}
