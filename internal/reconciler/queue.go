package reconciler

import (
	"context"
	"sync"
	"time"
)

// requestKey identifies a resource across queue implementations.
func requestKey(req ReconcileRequest) string {
	if req.Namespace != "" {
		return string(req.Type) + "/" + req.Namespace + "/" + req.Name
	}
	return string(req.Type) + "/" + req.Name
}

// workQueue implements ReconcileQueue. A key is never handed to two workers
// at once: adds for a key that is being processed are parked in dirty and
// released by Done.
type workQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	// queue holds keys in FIFO order; pending holds the latest request per key.
	queue   []string
	pending map[string]ReconcileRequest

	processing map[string]bool
	dirty      map[string]ReconcileRequest

	shuttingDown bool
}

// NewQueue creates a new reconciliation queue.
func NewQueue() ReconcileQueue {
	q := &workQueue{
		pending:    make(map[string]ReconcileRequest),
		processing: make(map[string]bool),
		dirty:      make(map[string]ReconcileRequest),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *workQueue) Add(req ReconcileRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	key := requestKey(req)
	if q.processing[key] {
		q.dirty[key] = req
		return
	}
	if _, queued := q.pending[key]; queued {
		q.pending[key] = req
		return
	}

	q.pending[key] = req
	q.queue = append(q.queue, key)
	q.cond.Signal()
}

func (q *workQueue) Get(ctx context.Context) (ReconcileRequest, bool) {
	// Wake waiters when ctx ends. The callback takes the lock, so it cannot
	// fire between the ctx check and cond.Wait below.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		if ctx.Err() != nil {
			return ReconcileRequest{}, false
		}
		q.cond.Wait()
	}
	if ctx.Err() != nil || len(q.queue) == 0 {
		return ReconcileRequest{}, false
	}

	key := q.queue[0]
	q.queue = q.queue[1:]
	req := q.pending[key]
	delete(q.pending, key)
	q.processing[key] = true

	return req, true
}

func (q *workQueue) Done(req ReconcileRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := requestKey(req)
	delete(q.processing, key)

	if next, ok := q.dirty[key]; ok {
		delete(q.dirty, key)
		if q.shuttingDown {
			return
		}
		q.pending[key] = next
		q.queue = append(q.queue, key)
		q.cond.Signal()
	}
}

func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func (q *workQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown = true
	q.cond.Broadcast()
}

// delayedQueue adds timer-based requeueing to a ReconcileQueue.
type delayedQueue struct {
	queue ReconcileQueue

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewDelayedQueue creates a queue that supports delayed requeuing.
func NewDelayedQueue() *delayedQueue {
	return &delayedQueue{
		queue:  NewQueue(),
		timers: make(map[string]*time.Timer),
	}
}

func (d *delayedQueue) Add(req ReconcileRequest) {
	d.queue.Add(req)
}

// AddAfter adds req once delay has elapsed. A later AddAfter for the same
// resource replaces the pending one.
func (d *delayedQueue) AddAfter(req ReconcileRequest, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	key := requestKey(req)
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.closed || d.timers[key] != t {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()

		d.queue.Add(req)
	})
	d.timers[key] = t
}

// Pending returns the number of requests waiting on a timer.
func (d *delayedQueue) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

func (d *delayedQueue) Get(ctx context.Context) (ReconcileRequest, bool) {
	return d.queue.Get(ctx)
}

func (d *delayedQueue) Done(req ReconcileRequest) {
	d.queue.Done(req)
}

func (d *delayedQueue) Len() int {
	return d.queue.Len()
}

// Shutdown stops the queue and cancels pending timers.
func (d *delayedQueue) Shutdown() {
	d.mu.Lock()
	d.closed = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
	d.mu.Unlock()

	d.queue.Shutdown()
}
