// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package parkinglot

import (
	"fmt"
	"math/bits"
	"sync"
	"time"
	"unsafe"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// ParkResult is the outcome of Lot.ParkConditionally.
type ParkResult int

const (
	// Unparked indicates the goroutine was parked, then woken by UnparkOne or
	// UnparkAll.
	Unparked ParkResult = iota
	// Invalid indicates validate returned false, and the goroutine did not
	// park. The caller should re-evaluate its fast path.
	Invalid
	// TimedOut indicates the goroutine was parked, but the deadline passed
	// before it was woken.
	TimedOut
)

// String returns a human-readable representation of the result.
func (r ParkResult) String() string {
	switch r {
	case Unparked:
		return "Unparked"
	case Invalid:
		return "Invalid"
	case TimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("ParkResult(%d)", int(r))
	}
}

// Lot is a registry of wait queues keyed by address. Instances must be
// initialized using New, and are safe for concurrent use.
//
// Addresses are opaque keys, and are never dereferenced. By convention, the
// address is that of the state word of the primitive that parks on it.
//
// Callbacks (validate, and the UnparkOne callback) are called while holding
// internal locks, and must not call back into the Lot.
type Lot struct {
	logger            *logiface.Logger[logiface.Event]
	slowParkLimiter   *catrate.Limiter
	buckets           []bucket
	counters          lotCounters
	shift             uint
	slowParkThreshold time.Duration
}

var defaultLot = sync.OnceValue(func() *Lot {
	lot, err := New()
	if err != nil {
		panic(err)
	}
	return lot
})

// Default returns the process-wide Lot, used by the zero value of Lock, and
// by NewLock or NewCond given a nil lot. It is created on first use, with the
// default options, and cannot be replaced or reset. Callers needing an
// isolated or configured Lot, e.g. in tests, should create one using New, and
// pass it explicitly.
func Default() *Lot { return defaultLot() }

// New creates a new Lot.
func New(options ...Option) (*Lot, error) {
	cfg, err := resolveLotOptions(options)
	if err != nil {
		return nil, err
	}

	x := &Lot{
		logger:            cfg.logger,
		buckets:           make([]bucket, cfg.buckets),
		shift:             uint(64 - bits.TrailingZeros(uint(cfg.buckets))),
		slowParkThreshold: cfg.slowParkThreshold,
	}

	if x.slowParkThreshold > 0 && len(cfg.slowParkLogRates) != 0 {
		if x.slowParkLimiter, err = newSlowParkLimiter(cfg.slowParkLogRates); err != nil {
			return nil, err
		}
	}

	return x, nil
}

func newSlowParkLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	defer func() {
		if r := recover(); r != nil {
			limiter, err = nil, fmt.Errorf("%w: %v", ErrInvalidSlowParkRates, r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// bucketIndex hashes addr (Fibonacci hashing), selecting the top bits.
func (x *Lot) bucketIndex(addr unsafe.Pointer) int {
	return int((uint64(uintptr(addr)) * 0x9E3779B97F4A7C15) >> x.shift)
}

func (x *Lot) acquire(addr unsafe.Pointer) (*bucket, int, *waitQueue) {
	i := x.bucketIndex(addr)
	b := &x.buckets[i]
	q, created := b.acquire(addr)
	if created {
		x.counters.queuesCreated.Add(1)
		x.logQueueCreated(addr, i)
	}
	return b, i, q
}

func (x *Lot) release(b *bucket, i int, q *waitQueue) {
	if b.release(q) {
		x.counters.queuesReaped.Add(1)
		x.logQueueReaped(q.addr, i)
	}
}

// ParkConditionally parks the calling goroutine on addr, provided validate
// returns true, until it is woken by UnparkOne or UnparkAll, or the deadline
// passes. A zero deadline means no timeout.
//
// The validate function is called while holding the lock of the queue for
// addr, the same lock that UnparkOne holds while calling its callback. If it
// returns false, Invalid is returned immediately, without parking.
//
// Otherwise, the goroutine is enqueued, and, after releasing the queue lock
// but before blocking, beforeSleep is called, if non-nil. It is typically
// used to release an outer lock, which an unparker may need to acquire.
//
// A deadline that has already passed results in TimedOut, if validate
// returns true. A goroutine that times out removes itself from the queue,
// unless it was concurrently unparked, in which case Unparked is returned.
//
// If validate or beforeSleep panics, the goroutine is not left enqueued, and
// the panic propagates.
//
// Panics if validate is nil.
func (x *Lot) ParkConditionally(addr unsafe.Pointer, validate func() bool, beforeSleep func(), deadline time.Time) ParkResult {
	if validate == nil {
		panic(`parkinglot: nil validate`)
	}

	b, i, q := x.acquire(addr)
	defer x.release(b, i, q)

	w := q.push(validate)
	if w == nil {
		x.counters.invalid.Add(1)
		return Invalid
	}
	x.counters.parks.Add(1)

	if beforeSleep != nil {
		x.callBeforeSleep(q, w, beforeSleep)
	}

	var start time.Time
	if x.slowParkThreshold > 0 || !deadline.IsZero() {
		start = time.Now()
	}

	result := x.wait(q, w, deadline)

	if !start.IsZero() {
		waited := time.Since(start)
		if result == TimedOut {
			x.logTimedOut(addr, waited)
		}
		if x.slowParkThreshold > 0 && waited >= x.slowParkThreshold {
			x.logSlowPark(addr, waited, result)
		}
	}

	return result
}

// callBeforeSleep calls beforeSleep, withdrawing w from q if it panics (or
// exits the goroutine). If w was unparked in the meantime, the wakeup is
// passed to the next waiter, so it isn't lost.
func (x *Lot) callBeforeSleep(q *waitQueue, w *waiter, beforeSleep func()) {
	var ok bool
	defer func() {
		if ok {
			return
		}
		q.mu.Lock()
		defer q.mu.Unlock()
		if !q.cancel(w) && q.pop() != nil {
			x.counters.unparked.Add(1)
		}
	}()
	beforeSleep()
	ok = true
}

func (x *Lot) wait(q *waitQueue, w *waiter, deadline time.Time) ParkResult {
	if deadline.IsZero() {
		<-w.ready
		return Unparked
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-w.ready:
		return Unparked
	case <-timer.C:
	}

	q.mu.Lock()
	cancelled := q.cancel(w)
	q.mu.Unlock()

	if !cancelled {
		// lost the race with an unparker, which has already closed ready
		return Unparked
	}

	x.counters.timedOut.Add(1)
	return TimedOut
}

// UnparkOne wakes at most one goroutine parked on addr, the one that has
// been parked the longest.
//
// If callback is non-nil, it is called with whether a goroutine was woken,
// and whether the queue is now empty, while still holding the queue lock
// (or, if there is no queue, the lock that prevents one being created).
// This allows the caller to update state that validate functions observe,
// without racing goroutines about to park.
//
// Calling UnparkOne on an address that nothing is parked on is cheap, and
// results in callback(false, true).
func (x *Lot) UnparkOne(addr unsafe.Pointer, callback func(didUnpark, queueEmpty bool)) {
	i := x.bucketIndex(addr)
	b := &x.buckets[i]

	var missing func()
	if callback != nil {
		missing = func() { callback(false, true) }
	}

	q := b.acquireExisting(addr, missing)
	if q == nil {
		return
	}
	defer x.release(b, i, q)

	q.mu.Lock()
	defer q.mu.Unlock()

	w := q.pop()
	if w != nil {
		x.counters.unparked.Add(1)
	}

	if callback != nil {
		callback(w != nil, q.empty())
	}
}

// UnparkAll wakes every goroutine parked on addr, returning the number woken.
func (x *Lot) UnparkAll(addr unsafe.Pointer) int {
	i := x.bucketIndex(addr)
	b := &x.buckets[i]

	q := b.acquireExisting(addr, nil)
	if q == nil {
		return 0
	}
	defer x.release(b, i, q)

	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	for q.pop() != nil {
		n++
	}
	x.counters.unparked.Add(uint64(n))

	return n
}

// Waiters returns the number of goroutines currently parked on addr.
func (x *Lot) Waiters(addr unsafe.Pointer) int {
	i := x.bucketIndex(addr)
	b := &x.buckets[i]

	q := b.acquireExisting(addr, nil)
	if q == nil {
		return 0
	}
	defer x.release(b, i, q)

	q.mu.Lock()
	defer q.mu.Unlock()

	return q.live
}

// Stats returns a snapshot of the Lot's counters.
func (x *Lot) Stats() Stats {
	s := x.counters.snapshot()
	for i := range x.buckets {
		s.Queues += x.buckets[i].len()
	}
	return s
}
