package parkinglot

import (
	"sync/atomic"
)

// Stats is a point-in-time snapshot of a Lot's counters, see Lot.Stats.
type Stats struct {
	// Parks is the number of goroutines that were enqueued, i.e. calls to
	// ParkConditionally where validate returned true.
	Parks uint64

	// Invalid is the number of calls to ParkConditionally where validate
	// returned false.
	Invalid uint64

	// Unparked is the number of goroutines woken, by UnparkOne or UnparkAll.
	Unparked uint64

	// TimedOut is the number of parked goroutines that reached their
	// deadline.
	TimedOut uint64

	// QueuesCreated is the number of wait queues allocated.
	QueuesCreated uint64

	// QueuesReaped is the number of wait queues released, after becoming
	// unreferenced.
	QueuesReaped uint64

	// Queues is the number of wait queues currently registered.
	Queues int
}

// lotCounters tracks Stats. All fields are updated atomically, outside of
// any lock.
type lotCounters struct {
	parks         atomic.Uint64
	invalid       atomic.Uint64
	unparked      atomic.Uint64
	timedOut      atomic.Uint64
	queuesCreated atomic.Uint64
	queuesReaped  atomic.Uint64
}

func (x *lotCounters) snapshot() Stats {
	return Stats{
		Parks:         x.parks.Load(),
		Invalid:       x.invalid.Load(),
		Unparked:      x.unparked.Load(),
		TimedOut:      x.timedOut.Load(),
		QueuesCreated: x.queuesCreated.Load(),
		QueuesReaped:  x.queuesReaped.Load(),
	}
}
