package parkinglot

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// Cond is a condition variable, parking on a Lot, associated with a Locker L,
// which must be held when calling Wait or WaitUntil.
//
// Unlike sync.Cond, the zero value is not usable without setting L, and a
// Cond may be used with any Locker, including Lock.
//
// A Cond must not be copied after first use.
type Cond struct {
	_ noCopy

	// L is held while observing or changing the condition.
	L sync.Locker

	lot        *Lot
	hasWaiters atomic.Bool
}

// NewCond returns a new Cond, with Locker l, that parks on lot, or Default if
// lot is nil.
func NewCond(lot *Lot, l sync.Locker) *Cond {
	return &Cond{L: l, lot: lot}
}

func (c *Cond) parkingLot() *Lot {
	if c.lot != nil {
		return c.lot
	}
	return Default()
}

func (c *Cond) addr() unsafe.Pointer {
	return unsafe.Pointer(&c.hasWaiters)
}

// Wait atomically unlocks c.L and suspends the calling goroutine, until woken
// by Signal or Broadcast. Before returning, Wait locks c.L. As with
// sync.Cond, the condition should be re-checked in a loop.
func (c *Cond) Wait() {
	c.WaitUntil(time.Time{})
}

// WaitUntil is like Wait, but gives up once the deadline passes, returning
// false. A zero deadline means no timeout. In all cases, c.L is locked on
// return.
func (c *Cond) WaitUntil(deadline time.Time) bool {
	result := c.parkingLot().ParkConditionally(
		c.addr(),
		func() bool {
			c.hasWaiters.Store(true)
			return true
		},
		c.L.Unlock,
		deadline,
	)
	c.L.Lock()
	return result != TimedOut
}

// Signal wakes one goroutine waiting on c, if there is any. It is allowed,
// but not required, for the caller to hold c.L.
func (c *Cond) Signal() {
	if !c.hasWaiters.Load() {
		return
	}
	c.parkingLot().UnparkOne(c.addr(), func(_, queueEmpty bool) {
		if queueEmpty {
			c.hasWaiters.Store(false)
		}
	})
}

// Broadcast wakes all goroutines waiting on c. It is allowed, but not
// required, for the caller to hold c.L.
func (c *Cond) Broadcast() {
	if !c.hasWaiters.Load() {
		return
	}
	// any goroutine that parks after this store sets it again
	c.hasWaiters.Store(false)
	c.parkingLot().UnparkAll(c.addr())
}
