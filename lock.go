// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package parkinglot

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	lockedBit    uint32 = 1
	hasParkedBit uint32 = 2

	// lockSpinLimit is the number of times Lock will yield, before parking,
	// while there are no parked goroutines.
	lockSpinLimit = 40
)

// Lock is a mutual exclusion lock, whose state is a single word, with
// contended acquisition parking on a Lot. The zero value is an unlocked Lock,
// which parks on Default.
//
// State is two bits: locked, and has parked. The has parked bit may only be
// set while at least one goroutine is parked, or about to park, on the
// address of the state word. The lock is not fair; an unparked goroutine
// competes with newly arriving ones.
//
// A Lock must not be copied after first use.
type Lock struct {
	_     noCopy
	lot   *Lot
	state atomic.Uint32
}

var _ sync.Locker = (*Lock)(nil)

// NewLock returns an unlocked Lock that parks on lot, or Default if lot is
// nil.
func NewLock(lot *Lot) *Lock {
	return &Lock{lot: lot}
}

func (l *Lock) parkingLot() *Lot {
	if l.lot != nil {
		return l.lot
	}
	return Default()
}

func (l *Lock) addr() unsafe.Pointer {
	return unsafe.Pointer(&l.state)
}

// Lock locks l, blocking until it is available.
func (l *Lock) Lock() {
	if l.state.CompareAndSwap(0, lockedBit) {
		return
	}
	l.lockSlow(time.Time{})
}

// TryLock attempts to lock l without blocking, reporting whether it
// succeeded.
func (l *Lock) TryLock() bool {
	for {
		state := l.state.Load()
		if state&lockedBit != 0 {
			return false
		}
		if l.state.CompareAndSwap(state, state|lockedBit) {
			return true
		}
	}
}

// LockUntil attempts to lock l, blocking until it is available, or the
// deadline passes, reporting whether it succeeded. A zero deadline means no
// timeout.
func (l *Lock) LockUntil(deadline time.Time) bool {
	if l.state.CompareAndSwap(0, lockedBit) {
		return true
	}
	return l.lockSlow(deadline)
}

func (l *Lock) lockSlow(deadline time.Time) bool {
	var spins int
	for {
		state := l.state.Load()

		if state&lockedBit == 0 {
			if l.state.CompareAndSwap(state, state|lockedBit) {
				return true
			}
			continue
		}

		if state&hasParkedBit == 0 {
			// nobody is parked, the holder may be about to unlock
			if spins < lockSpinLimit {
				spins++
				runtime.Gosched()
				continue
			}
			if !l.state.CompareAndSwap(state, state|hasParkedBit) {
				continue
			}
		}

		result := l.parkingLot().ParkConditionally(
			l.addr(),
			func() bool {
				return l.state.Load()&(lockedBit|hasParkedBit) == lockedBit|hasParkedBit
			},
			nil,
			deadline,
		)
		if result == TimedOut {
			// has parked may remain set, the next unlock clears it
			return false
		}

		// either woken by an unlock, or the lock state changed before parking
	}
}

// Unlock unlocks l. Like sync.Mutex, a locked Lock is not associated with a
// particular goroutine.
//
// Panics if l is not locked.
func (l *Lock) Unlock() {
	if l.state.CompareAndSwap(lockedBit, 0) {
		return
	}
	l.unlockSlow()
}

func (l *Lock) unlockSlow() {
	for {
		state := l.state.Load()
		if state&lockedBit == 0 {
			panic(`parkinglot: unlock of unlocked Lock`)
		}
		if state == lockedBit {
			if l.state.CompareAndSwap(lockedBit, 0) {
				return
			}
			continue
		}
		break
	}

	l.parkingLot().UnparkOne(l.addr(), func(didUnpark, queueEmpty bool) {
		if !didUnpark && !queueEmpty {
			panic(`parkinglot: no goroutine unparked from a non-empty queue`)
		}
		if queueEmpty {
			l.state.Store(0)
		} else {
			l.state.Store(hasParkedBit)
		}
	})
}

// IsLocked reports whether l is currently locked. The result may be stale as
// soon as it is returned.
func (l *Lock) IsLocked() bool {
	return l.state.Load()&lockedBit != 0
}

// noCopy may be embedded into structs which must not be copied after first
// use, see go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
