package timerbatch

import (
	"time"

	"github.com/benbjohnson/clock"
)

type (
	// Callback is an opaque handle, invoked by a Scheduler once due.
	//
	// Handles are compared by identity (interface equality), so the dynamic
	// value must be comparable. Pointers are recommended, as struct values
	// compare by their fields, and Add rejects any with an interface field
	// holding an uncomparable value. Remove must be passed the same handle
	// that was passed to Add. See also Func.
	Callback interface {
		Run()
	}

	// FuncCallback adapts a closure to a Callback, with pointer identity.
	// Instances must be initialized using Func.
	FuncCallback struct {
		fn func()
	}

	// Wakeup models the underlying wakeup primitive, which the Scheduler will
	// have at most one outstanding Timer for, at any given time.
	//
	// Implementations must not call f synchronously, from within AfterFunc.
	Wakeup interface {
		AfterFunc(d time.Duration, f func()) Timer
	}

	// Timer is an armed Wakeup, which may be canceled.
	Timer interface {
		Stop() bool
	}

	// Executor runs functions on a single logical thread of control, e.g.
	// [github.com/joeycumines/go-timerbatch/loop.Loop].
	//
	// If configured, every Scheduler fire cycle is submitted via the
	// Executor, rather than being run on the goroutine of the Wakeup.
	Executor interface {
		Submit(fn func()) error
	}

	// clockWakeup implements Wakeup using a clock.Clock.
	clockWakeup struct {
		clock clock.Clock
	}
)

var (
	// compile time assertions

	_ Callback = (*FuncCallback)(nil)
	_ Wakeup   = clockWakeup{}
	_ Timer    = (*clock.Timer)(nil)
)

// Func returns a new Callback that calls fn. Each call returns a distinct
// handle, even for the same fn. A panic will occur if fn is nil.
func Func(fn func()) *FuncCallback {
	if fn == nil {
		panic(`timerbatch: nil func`)
	}
	return &FuncCallback{fn: fn}
}

// Run calls the wrapped function.
func (x *FuncCallback) Run() { x.fn() }

// ClockWakeup returns a Wakeup backed by c, which may be a mock, see
// [clock.NewMock]. A panic will occur if c is nil.
func ClockWakeup(c clock.Clock) Wakeup {
	if c == nil {
		panic(`timerbatch: nil clock`)
	}
	return clockWakeup{clock: c}
}

func (x clockWakeup) AfterFunc(d time.Duration, f func()) Timer {
	return x.clock.AfterFunc(d, f)
}
