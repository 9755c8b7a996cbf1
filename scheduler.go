package timerbatch

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"go.uber.org/multierr"
)

type (
	// Scheduler coalesces many "run no earlier than" registrations onto a
	// single underlying wakeup.
	//
	// A Scheduler is not safe for concurrent use. Add, Remove, Dispose, and
	// the fire cycle must all happen on one logical thread of control, see
	// WithExecutor. Callbacks may call Add, Remove, and Dispose on the same
	// Scheduler, reentrantly.
	//
	// Instances must be initialized using the New factory.
	Scheduler struct { // betteralign:ignore
		// Prevent copying
		_ [0]func()

		clock        clock.Clock
		wakeup       Wakeup
		executor     Executor
		logger       *logiface.Logger[logiface.Event]
		panicLimiter *catrate.Limiter
		panicHandler func(err error)

		// armed is the outstanding wakeup, if any
		armed *armedWakeup

		// snapshot is reused by fire cycles
		snapshot entryQueue

		store entryStore
		stats counters

		tolerance time.Duration
		repanic   bool
		disposed  bool
	}

	// armedWakeup is compared by identity, to detect stale fires
	armedWakeup struct {
		timer Timer
		at    time.Time
	}
)

// New initializes a new Scheduler, using the provided options.
//
// By default, fire cycles run on the goroutine of the wakeup primitive,
// which for the system clock is a timer goroutine. Unless every use of the
// Scheduler is otherwise serialized with that goroutine, configure
// WithExecutor, and call Add, Remove, and Dispose from the same executor.
//
// The Scheduler.Dispose method should be called when the Scheduler is no
// longer needed.
func New(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		clock:        cfg.clock,
		wakeup:       cfg.wakeup,
		executor:     cfg.executor,
		logger:       cfg.logger,
		panicLimiter: cfg.panicLimiter,
		panicHandler: cfg.panicHandler,
		tolerance:    cfg.tolerance,
		repanic:      cfg.repanic,
	}, nil
}

// Add schedules cb to run no earlier than delay from now, returning a
// function equivalent to calling Remove(cb), except that it is a silent
// no-op once the Scheduler has been disposed. Negative delays are treated as
// zero. The same handle may be added more than once, in which case each
// registration is independent, and Remove cancels only one.
//
// If called from within a callback, the new registration will not run
// within the current fire cycle, even if it is already due.
//
// ErrDisposed will be returned if the Scheduler has been disposed. A panic
// will occur if cb is nil, or is not comparable, including a struct value
// with an interface field holding e.g. a slice.
func (x *Scheduler) Add(delay time.Duration, cb Callback) (func(), error) {
	if cb == nil {
		panic(`timerbatch: nil callback`)
	}
	if !isComparable(cb) {
		panic(fmt.Sprintf(`timerbatch: callback of type %T is not comparable`, cb))
	}
	if x.disposed {
		return nil, ErrDisposed
	}
	if delay < 0 {
		delay = 0
	}
	x.store.add(x.clock.Now().Add(delay), cb)
	x.update()
	return func() { _ = x.Remove(cb) }, nil
}

// Remove cancels the earliest pending registration of cb, if any. It is a
// no-op if cb is not pending, e.g. if it has already run.
//
// A registration that has started running is unaffected, and is never
// matched, e.g. a callback removing itself cancels its next registration.
// Any other due callback removed during a fire cycle will not be run.
//
// ErrDisposed will be returned if the Scheduler has been disposed.
func (x *Scheduler) Remove(cb Callback) error {
	if x.disposed {
		return ErrDisposed
	}
	// uncomparable handles can never have been added
	if cb != nil && isComparable(cb) && x.store.removeFirst(cb) {
		x.update()
	}
	return nil
}

// Dispose cancels any outstanding wakeup, and discards all pending
// registrations. Subsequent calls to Add or Remove will return ErrDisposed.
// Calling Dispose more than once is a no-op.
func (x *Scheduler) Dispose() {
	if x.disposed {
		return
	}
	x.disposed = true
	x.cancel(`dispose`)
	x.store.reset()
}

// Len returns the number of pending registrations.
func (x *Scheduler) Len() int {
	return x.store.len()
}

// Next returns the earliest pending deadline, excluding registrations made
// during a fire cycle that is still running.
func (x *Scheduler) Next() (time.Time, bool) {
	return x.store.earliest()
}

// Armed returns the time the outstanding wakeup was armed for, if any.
func (x *Scheduler) Armed() (time.Time, bool) {
	if x.armed == nil {
		return time.Time{}, false
	}
	return x.armed.at, true
}

// Disposed returns true if Dispose has been called.
func (x *Scheduler) Disposed() bool {
	return x.disposed
}

// Stats returns the current counters. Unlike other methods, it is safe to
// call from any goroutine.
func (x *Scheduler) Stats() Stats {
	return x.stats.snapshot()
}

// update reconsiders the armed wakeup, after a mutation. Wakeups are only
// moved earlier, and only by more than the tolerance.
func (x *Scheduler) update() {
	if x.store.executing {
		// the fire cycle re-arms once it completes
		return
	}

	earliest, ok := x.store.earliest()
	if !ok {
		x.cancel(`empty`)
		return
	}

	if x.armed != nil {
		if x.armed.at.Sub(earliest) <= x.tolerance {
			return
		}
		x.cancel(`reschedule`)
	}

	now := x.clock.Now()
	x.arm(now, earliest.Sub(now))
}

func (x *Scheduler) arm(now time.Time, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	a := &armedWakeup{at: now.Add(delay)}
	x.armed = a
	x.stats.arms.Add(1)
	a.timer = x.wakeup.AfterFunc(delay, func() { x.wake(a) })
	x.logArm(delay, a.at)
}

func (x *Scheduler) cancel(reason string) {
	a := x.armed
	if a == nil {
		return
	}
	x.armed = nil
	a.timer.Stop()
	x.stats.cancels.Add(1)
	x.logCancel(a.at, reason)
}

// wake is called by the wakeup primitive, possibly on another goroutine.
func (x *Scheduler) wake(a *armedWakeup) {
	if x.executor == nil {
		x.fire(a)
		return
	}
	if err := x.executor.Submit(func() { x.fire(a) }); err != nil {
		x.logger.Warning().
			Err(err).
			Time(`at`, a.at).
			Log(`timerbatch: failed to submit fire cycle`)
	}
}

func (x *Scheduler) fire(a *armedWakeup) {
	if x.armed != a || x.disposed {
		// canceled after the underlying timer had already fired
		return
	}
	x.armed = nil

	now := x.clock.Now()
	x.stats.cycles.Add(1)

	fired, panicked, faults := x.execute(now)

	x.logCycle(now, fired, panicked)

	if faults == nil {
		return
	}
	if x.panicHandler != nil {
		x.panicHandler(faults)
	}
	if x.repanic {
		panic(faults)
	}
}

// execute invokes every due entry of a snapshot of the active queue, in
// order. The queue bookkeeping is deferred, and runs even if a callback
// exits abnormally, e.g. via runtime.Goexit.
func (x *Scheduler) execute(now time.Time) (fired, panicked int, faults error) {
	x.snapshot = append(x.snapshot[:0], x.store.active...)
	x.store.executing = true
	defer x.settle(now)

	for _, e := range x.snapshot {
		if e.deadline.After(now) {
			break
		}
		if e.removed {
			continue
		}
		e.started = true
		fired++
		x.stats.fired.Add(1)
		if p := x.invoke(e); p != nil {
			panicked++
			faults = multierr.Append(faults, p)
		}
	}

	return
}

// settle completes a fire cycle, draining the due prefix of the live active
// queue, merging the reentrant queue, then re-arming.
func (x *Scheduler) settle(now time.Time) {
	x.snapshot = x.store.drainDue(now, x.snapshot[:0])
	clear(x.snapshot)
	x.snapshot = x.snapshot[:0]

	x.store.executing = false

	if x.disposed {
		x.store.reset()
		return
	}

	x.store.mergeReentrant()

	if earliest, ok := x.store.earliest(); ok {
		// callbacks may have taken a while, so delay from the current time
		current := x.clock.Now()
		x.arm(current, max(earliest.Sub(current), x.tolerance))
	}
}

// isComparable reports whether cb may be compared using ==, which may depend
// on dynamic values, e.g. interface fields, not only the type.
func isComparable(cb Callback) (ok bool) {
	if !reflect.TypeOf(cb).Comparable() {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	other := cb
	return cb == other
}

func (x *Scheduler) invoke(e *entry) (p *PanicError) {
	defer func() {
		if r := recover(); r != nil {
			p = &PanicError{
				Value:    r,
				Callback: e.callback,
				Deadline: e.deadline,
				Stack:    debug.Stack(),
			}
			x.stats.panics.Add(1)
			x.logPanic(p)
		}
	}()
	e.callback.Run()
	return nil
}
