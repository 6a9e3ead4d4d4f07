// Package parkinglot implements a parking lot: an address-keyed registry of
// wait queues, which synchronization primitives may share instead of each
// owning a dedicated wait primitive. The design follows the one used by
// WebKit's WTF::ParkingLot, and by the Go runtime's semaphore table.
//
// # Architecture
//
// A [Lot] maps an arbitrary address (typically that of a primitive's state
// word) to a FIFO queue of parked goroutines. The mapping is sharded into
// buckets, each guarded by its own mutex, and each queue has a further mutex
// guarding its waiters. Queues are created on first use and reaped once
// nothing references them.
//
// Two operations make up the protocol:
//   - [Lot.ParkConditionally] calls a validate function under the queue lock,
//     enqueues the caller only if it returns true, calls beforeSleep once the
//     queue lock is released, then blocks until unparked or the deadline
//     passes.
//   - [Lot.UnparkOne] wakes at most one parked goroutine, calling back with
//     the outcome while still holding the queue lock, so the caller may
//     update its own state without racing a goroutine about to park.
//
// Because validate and the unpark callback are serialized by the same lock,
// a goroutine either observes that it need not sleep, or is enqueued before
// any unparker can decide whom to wake. There are no lost wakeups.
//
// # Primitives
//
// [Lock] is a mutex whose uncontended path is a single CAS on a uint32 word,
// with contended acquisition parking on the lot. [Cond] is a condition
// variable, which uses the beforeSleep hook to release the associated
// [sync.Locker] only after the waiter is enqueued.
//
// # Usage
//
//	lot, err := parkinglot.New(
//	    parkinglot.WithBuckets(64),
//	    parkinglot.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mu := parkinglot.NewLock(lot)
//	mu.Lock()
//	defer mu.Unlock()
//
// The zero value [Lock] is usable, and parks on the process-wide [Default]
// lot.
package parkinglot
