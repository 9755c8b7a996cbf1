package timerbatch

import (
	"sync/atomic"
)

// Stats is a point-in-time snapshot of Scheduler counters.
type Stats struct {
	// Arms is the number of times the wakeup primitive was armed.
	Arms uint64
	// Cancels is the number of times an armed wakeup was canceled.
	Cancels uint64
	// Cycles is the number of fire cycles run.
	Cycles uint64
	// Fired is the number of callbacks invoked.
	Fired uint64
	// Panics is the number of callback invocations that panicked.
	Panics uint64
}

// counters may be read from any goroutine.
type counters struct {
	arms    atomic.Uint64
	cancels atomic.Uint64
	cycles  atomic.Uint64
	fired   atomic.Uint64
	panics  atomic.Uint64
}

func (x *counters) snapshot() Stats {
	return Stats{
		Arms:    x.arms.Load(),
		Cancels: x.cancels.Load(),
		Cycles:  x.cycles.Load(),
		Fired:   x.fired.Load(),
		Panics:  x.panics.Load(),
	}
}
