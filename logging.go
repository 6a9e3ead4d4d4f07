package parkinglot

import (
	"fmt"
	"time"
	"unsafe"
)

// logging helpers, all of which are no-ops without a logger, or if the
// relevant level is disabled

func (x *Lot) logQueueCreated(addr unsafe.Pointer, bucket int) {
	if b := x.logger.Debug(); b.Enabled() {
		b.Str(`addr`, formatAddr(addr)).
			Int(`bucket`, bucket).
			Log(`queue created`)
	}
}

func (x *Lot) logQueueReaped(addr unsafe.Pointer, bucket int) {
	if b := x.logger.Debug(); b.Enabled() {
		b.Str(`addr`, formatAddr(addr)).
			Int(`bucket`, bucket).
			Log(`queue reaped`)
	}
}

func (x *Lot) logTimedOut(addr unsafe.Pointer, waited time.Duration) {
	if b := x.logger.Debug(); b.Enabled() {
		b.Str(`addr`, formatAddr(addr)).
			Dur(`waited`, waited).
			Log(`park timed out`)
	}
}

// logSlowPark warns that a goroutine was parked for at least the configured
// threshold, subject to per-address rate limiting.
func (x *Lot) logSlowPark(addr unsafe.Pointer, waited time.Duration, result ParkResult) {
	b := x.logger.Warning()
	if !b.Enabled() {
		return
	}
	// uintptr, so the limiter's categories don't keep the address alive
	if _, ok := x.slowParkLimiter.Allow(uintptr(addr)); !ok {
		b.Release()
		return
	}
	b.Str(`addr`, formatAddr(addr)).
		Dur(`waited`, waited).
		Dur(`threshold`, x.slowParkThreshold).
		Stringer(`result`, result).
		Log(`slow park`)
}

func formatAddr(addr unsafe.Pointer) string {
	return fmt.Sprintf(`%p`, addr)
}
