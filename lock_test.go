package parkinglot

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// hammerLock has each worker repeatedly increment a counter guarded by l,
// returning an error if two workers ever hold l simultaneously.
func hammerLock(l *Lock, workers, increments int, counter *int) error {
	var holders atomic.Int32
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for j := 0; j < increments; j++ {
				l.Lock()
				if n := holders.Add(1); n != 1 {
					holders.Add(-1)
					l.Unlock()
					return fmt.Errorf("mutual exclusion violated: %d holders", n)
				}
				*counter++
				holders.Add(-1)
				l.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}

func TestLock_counter(t *testing.T) {
	t.Parallel()
	lot := newTestLot(t)
	l := NewLock(lot)

	const workers, increments = 8, 10000
	var counter int
	require.NoError(t, hammerLock(l, workers, increments, &counter))

	assert.Equal(t, workers*increments, counter)
	assert.False(t, l.IsLocked())
	assert.Zero(t, l.state.Load(), "no waiters should remain")
	assert.Zero(t, lot.Stats().Queues)
}

func TestLock_independentAddresses(t *testing.T) {
	t.Parallel()
	lot := newTestLot(t, WithBuckets(1))
	a, b := NewLock(lot), NewLock(lot)

	increments := 20000
	if testing.Short() {
		increments = 2000
	}

	var counterA, counterB int
	done := make(chan error, 1)
	go func() {
		var g errgroup.Group
		g.Go(func() error { return hammerLock(a, 2, increments, &counterA) })
		g.Go(func() error { return hammerLock(b, 2, increments, &counterB) })
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("deadlock: workers did not complete")
	}

	assert.Equal(t, 2*increments, counterA)
	assert.Equal(t, 2*increments, counterB)
	assert.Zero(t, a.state.Load())
	assert.Zero(t, b.state.Load())
}

func TestLock_zeroValue(t *testing.T) {
	t.Parallel()
	var l Lock
	l.Lock()
	assert.True(t, l.IsLocked())
	assert.Same(t, Default(), l.parkingLot())

	acquired := make(chan struct{})
	go func() {
		l.Lock()
		close(acquired)
		l.Unlock()
	}()

	require.Eventually(t, func() bool {
		return Default().Waiters(l.addr()) == 1
	}, 5*time.Second, time.Millisecond)

	l.Unlock()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("parked locker was not woken")
	}
}

func TestLock_explicitLotIsolated(t *testing.T) {
	t.Parallel()
	lot := newTestLot(t)
	l := NewLock(lot)
	require.Same(t, lot, l.parkingLot())

	l.Lock()
	acquired := make(chan struct{})
	go func() {
		l.Lock()
		close(acquired)
		l.Unlock()
	}()

	waitForWaiters(t, lot, l.addr(), 1)
	assert.Zero(t, Default().Waiters(l.addr()), "must not park on the default lot")

	l.Unlock()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("parked locker was not woken")
	}
	assert.NotZero(t, lot.Stats().Parks)
}

func TestLock_TryLock(t *testing.T) {
	t.Parallel()
	l := NewLock(newTestLot(t))

	require.True(t, l.TryLock())
	assert.False(t, l.TryLock())
	l.Unlock()
	assert.True(t, l.TryLock())
	l.Unlock()
}

func TestLock_TryLock_hasParked(t *testing.T) {
	t.Parallel()
	l := NewLock(newTestLot(t))

	// unlocked, but a parked goroutine has yet to observe it
	l.state.Store(hasParkedBit)
	require.True(t, l.TryLock())
	assert.Equal(t, lockedBit|hasParkedBit, l.state.Load())
}

func TestLock_LockUntil(t *testing.T) {
	t.Parallel()
	lot := newTestLot(t)
	l := NewLock(lot)

	require.True(t, l.LockUntil(time.Now().Add(time.Second)))

	start := time.Now()
	assert.False(t, l.LockUntil(start.Add(20*time.Millisecond)))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// the timed out goroutine left has parked set, which unlock clears
	assert.Equal(t, lockedBit|hasParkedBit, l.state.Load())
	l.Unlock()
	assert.Zero(t, l.state.Load())

	assert.True(t, l.LockUntil(time.Now().Add(-time.Second)), "uncontended, the deadline is irrelevant")
	l.Unlock()
}

func TestLock_LockUntil_handoff(t *testing.T) {
	t.Parallel()
	lot := newTestLot(t)
	l := NewLock(lot)
	l.Lock()

	result := make(chan bool, 1)
	go func() {
		result <- l.LockUntil(time.Now().Add(5 * time.Second))
	}()

	require.Eventually(t, func() bool {
		return lot.Waiters(l.addr()) == 1
	}, 5*time.Second, time.Millisecond)

	l.Unlock()
	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("LockUntil did not return")
	}
	assert.True(t, l.IsLocked())
	l.Unlock()
}

func TestLock_Unlock_unlockedPanics(t *testing.T) {
	t.Parallel()
	l := NewLock(newTestLot(t))
	assert.PanicsWithValue(t, `parkinglot: unlock of unlocked Lock`, l.Unlock)

	l.state.Store(hasParkedBit)
	assert.PanicsWithValue(t, `parkinglot: unlock of unlocked Lock`, l.Unlock)
}

func TestLock_Unlock_keepsHasParked(t *testing.T) {
	t.Parallel()
	lot := newTestLot(t)
	l := NewLock(lot)
	l.Lock()

	const n = 3
	acquired := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			l.Lock()
			acquired <- struct{}{}
		}()
	}

	require.Eventually(t, func() bool {
		return lot.Waiters(l.addr()) == n
	}, 5*time.Second, time.Millisecond)

	for i := n; i > 0; i-- {
		l.Unlock()
		select {
		case <-acquired:
		case <-time.After(5 * time.Second):
			t.Fatal("parked locker was not woken")
		}
		if i > 1 {
			assert.Equal(t, lockedBit|hasParkedBit, l.state.Load())
		} else {
			assert.Equal(t, lockedBit, l.state.Load())
		}
	}
	l.Unlock()
	assert.Zero(t, l.state.Load())
}

func BenchmarkLock_uncontended(b *testing.B) {
	l := NewLock(nil)
	for b.Loop() {
		l.Lock()
		l.Unlock()
	}
}

func BenchmarkLock_contended(b *testing.B) {
	lot, err := New()
	require.NoError(b, err)
	l := NewLock(lot)
	var counter int
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.Lock()
			counter++
			l.Unlock()
		}
	})
	_ = counter
}
