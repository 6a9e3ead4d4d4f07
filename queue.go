package parkinglot

import (
	"sync"
	"unsafe"

	"github.com/eapache/queue"
	"golang.org/x/sys/cpu"
)

// waiterState is guarded by the mutex of the waitQueue the waiter was
// pushed to.
type waiterState uint8

const (
	waiterParked waiterState = iota
	waiterUnparked
	waiterCancelled
)

// waiter is the record of a single parked goroutine.
type waiter struct {
	// ready is closed exactly once, by the unparker that dequeued the waiter
	ready chan struct{}
	state waiterState
}

func newWaiter() *waiter {
	return &waiter{ready: make(chan struct{})}
}

// waitQueue holds the goroutines parked on a single address, in FIFO order.
//
// Waiters that time out are marked cancelled rather than removed, and are
// skipped (and discarded) when popped, or when trimmed. The live count
// excludes them.
type waitQueue struct {
	addr    unsafe.Pointer
	waiters *queue.Queue // *waiter, guarded by mu
	mu      sync.Mutex
	live    int // guarded by mu
	refs    int // guarded by the owning bucket's mu
}

func newWaitQueue(addr unsafe.Pointer) *waitQueue {
	return &waitQueue{
		addr:    addr,
		waiters: queue.New(),
	}
}

// push enqueues a new waiter if validate returns true. The queue lock is held
// for the duration, and released even if validate panics.
func (q *waitQueue) push(validate func() bool) *waiter {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !validate() {
		return nil
	}
	w := newWaiter()
	q.waiters.Add(w)
	q.live++
	return w
}

// pop dequeues the first parked waiter, marking it unparked, and closing its
// ready channel. Must be called with mu held.
func (q *waitQueue) pop() *waiter {
	for q.waiters.Length() != 0 {
		w := q.waiters.Remove().(*waiter)
		if w.state != waiterParked {
			continue
		}
		w.state = waiterUnparked
		q.live--
		close(w.ready)
		return w
	}
	return nil
}

// cancel removes a waiter that gave up waiting, returning false if it was
// already unparked. Must be called with mu held.
func (q *waitQueue) cancel(w *waiter) bool {
	if w.state != waiterParked {
		return false
	}
	w.state = waiterCancelled
	q.live--
	q.trim()
	return true
}

// trim discards cancelled records from the head, and compacts the queue once
// they outnumber the parked waiters, so the length never exceeds 2*live.
func (q *waitQueue) trim() {
	for q.waiters.Length() != 0 && q.waiters.Peek().(*waiter).state != waiterParked {
		q.waiters.Remove()
	}
	if n := q.waiters.Length(); n > 2*q.live {
		for i := 0; i < n; i++ {
			if w := q.waiters.Remove().(*waiter); w.state == waiterParked {
				q.waiters.Add(w)
			}
		}
	}
}

func (q *waitQueue) empty() bool {
	return q.live == 0
}

// bucket is one shard of the address to queue mapping. The mutex guards the
// map, and the reference counts of the queues within it, but not the queues'
// waiters.
type bucket struct {
	queues map[unsafe.Pointer]*waitQueue
	mu     sync.Mutex
	_      cpu.CacheLinePad
}

// acquire returns the queue for addr, creating it if necessary, and
// incrementing its reference count. The created result indicates a new queue
// was allocated.
func (b *bucket) acquire(addr unsafe.Pointer) (q *waitQueue, created bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q = b.queues[addr]
	if q == nil {
		if b.queues == nil {
			b.queues = make(map[unsafe.Pointer]*waitQueue)
		}
		q = newWaitQueue(addr)
		b.queues[addr] = q
		created = true
	}
	q.refs++
	return q, created
}

// acquireExisting is like acquire, but will not create a queue. If there is
// no queue for addr, missing is called while still holding the bucket lock,
// and nil is returned. Holding the lock prevents a goroutine from parking on
// addr until missing returns.
func (b *bucket) acquireExisting(addr unsafe.Pointer, missing func()) *waitQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[addr]
	if q == nil {
		if missing != nil {
			missing()
		}
		return nil
	}
	q.refs++
	return q
}

// release decrements the reference count of q, reaping it once unreferenced.
// A queue without references cannot have parked waiters, as every parked
// goroutine holds a reference until it returns.
func (b *bucket) release(q *waitQueue) (reaped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q.refs--
	switch {
	case q.refs > 0:
		return false
	case q.refs < 0:
		panic("parkinglot: wait queue reference count underflow")
	}
	delete(b.queues, q.addr)
	return true
}

func (b *bucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues)
}
