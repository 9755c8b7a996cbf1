package timerbatch

import (
	"reflect"
	"time"

	"github.com/joeycumines/logiface"
)

// logPanic logs a recovered callback panic, subject to the panic log rates.
func (x *Scheduler) logPanic(p *PanicError) {
	b := x.logger.Err()
	if !b.Enabled() {
		return
	}

	var next time.Time
	if x.panicLimiter != nil {
		var ok bool
		next, ok = x.panicLimiter.Allow(reflect.TypeOf(p.Callback))
		if !ok {
			b.Release()
			return
		}
	}

	b.Err(p).
		Str(`callback`, callbackTypeName(p.Callback)).
		Time(`deadline`, p.Deadline).
		Str(`stack`, string(p.Stack)).
		Call(func(b *logiface.Builder[logiface.Event]) {
			if !next.IsZero() {
				// further panics of this type will be dropped until next
				b.Time(`limited_until`, next)
			}
		}).
		Log(`timerbatch: callback panicked`)
}

func (x *Scheduler) logArm(delay time.Duration, at time.Time) {
	x.logger.Trace().
		Dur(`delay`, delay).
		Time(`at`, at).
		Int(`pending`, x.store.len()).
		Log(`timerbatch: armed wakeup`)
}

func (x *Scheduler) logCancel(at time.Time, reason string) {
	x.logger.Trace().
		Time(`at`, at).
		Str(`reason`, reason).
		Log(`timerbatch: canceled wakeup`)
}

func (x *Scheduler) logCycle(now time.Time, fired, panicked int) {
	x.logger.Debug().
		Time(`now`, now).
		Int(`fired`, fired).
		Int(`panicked`, panicked).
		Int(`pending`, x.store.len()).
		Log(`timerbatch: fire cycle complete`)
}

func callbackTypeName(cb Callback) string {
	if t := reflect.TypeOf(cb); t != nil {
		return t.String()
	}
	return `<nil>`
}
