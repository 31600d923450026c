package engine

import "sync"

// eventQueue is an unbounded FIFO feeding the Events channel. Host callbacks
// push from inside wasm calls; pushing must never block, otherwise a command
// that emits an event while the consumer is itself blocked in that command
// would deadlock. A pump goroutine forwards entries to the outward channel.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool
	out    chan Event

	quit     chan struct{}
	quitOnce sync.Once
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		out:  make(chan Event),
		quit: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

// push appends ev. It is a no-op after close.
func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, ev)
	q.cond.Signal()
}

// close stops accepting events; the pump delivers what was already pushed,
// then closes the outward channel.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Signal()
}

// stop abandons delivery: remaining events are dropped and the pump exits
// even if the consumer is gone. Used on teardown, where close alone would
// leave the pump blocked on the outward send forever.
func (q *eventQueue) stop() {
	q.quitOnce.Do(func() { close(q.quit) })
	q.close()
}

func (q *eventQueue) pump() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			close(q.out)
			return
		}
		ev := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.quit:
			close(q.out)
			return
		}
	}
}
