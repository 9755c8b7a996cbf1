package timerbatch

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

type (
	// fakeWakeup records every arm, firing only when told to.
	fakeWakeup struct {
		clock  *clock.Mock
		timers []*fakeTimer
		stops  int
	}

	fakeTimer struct {
		w       *fakeWakeup
		fn      func()
		at      time.Time
		delay   time.Duration
		stopped bool
		fired   bool
	}

	// harness wires a Scheduler to a mock clock and a fakeWakeup.
	harness struct {
		t     *testing.T
		clock *clock.Mock
		wake  *fakeWakeup
		s     *Scheduler
		trace []string
	}

	// recorder is a comparable Callback that appends its name to a trace.
	recorder struct {
		h    *harness
		name string
		fn   func()
	}
)

func (w *fakeWakeup) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{w: w, fn: f, at: w.clock.Now().Add(d), delay: d}
	w.timers = append(w.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.w.stops++
	return true
}

// fire calls the timer's function, even if stopped, as a real timer may
// have already fired by the time Stop is called.
func (t *fakeTimer) fire() {
	t.fired = true
	t.fn()
}

// pending returns the outstanding timer, or nil, failing if there are many.
func (w *fakeWakeup) pending(tb testing.TB) *fakeTimer {
	tb.Helper()
	var out *fakeTimer
	for _, t := range w.timers {
		if t.stopped || t.fired {
			continue
		}
		require.Nil(tb, out, `more than one outstanding wakeup`)
		out = t
	}
	return out
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	mock := clock.NewMock()
	h := &harness{
		t:     t,
		clock: mock,
		wake:  &fakeWakeup{clock: mock},
	}
	s, err := New(append([]Option{WithClock(mock), WithWakeup(h.wake)}, opts...)...)
	require.NoError(t, err)
	h.s = s
	t.Cleanup(s.Dispose)
	return h
}

func (h *harness) callback(name string, fn func()) *recorder {
	return &recorder{h: h, name: name, fn: fn}
}

func (r *recorder) Run() {
	r.h.trace = append(r.h.trace, r.name)
	if r.fn != nil {
		r.fn()
	}
}

func (h *harness) add(delay time.Duration, cb Callback) func() {
	h.t.Helper()
	dispose, err := h.s.Add(delay, cb)
	require.NoError(h.t, err)
	return dispose
}

// advance moves the clock forward by d, firing each outstanding wakeup at
// the time it was armed for.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	target := h.clock.Now().Add(d)
	for {
		t := h.wake.pending(h.t)
		if t == nil || t.at.After(target) {
			break
		}
		h.clock.Set(t.at)
		t.fire()
	}
	h.clock.Set(target)
}

// fireAt sets the clock to at (which may be early or late, relative to the
// armed time), then fires the outstanding wakeup.
func (h *harness) fireAt(at time.Time) {
	h.t.Helper()
	t := h.wake.pending(h.t)
	require.NotNil(h.t, t, `no outstanding wakeup`)
	h.clock.Set(at)
	t.fire()
}

func (h *harness) arms() int {
	return len(h.wake.timers)
}
