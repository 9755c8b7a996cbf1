// Package timerbatch implements a batching deadline scheduler, which accepts
// many independent "run this callback no earlier than T" registrations, and
// coalesces them onto a single underlying wakeup, rather than arming one timer
// per registration.
//
// Registrations may be added and removed at any time, including from within a
// callback that is being run by the Scheduler. The wakeup is only re-armed
// when the earliest deadline moves earlier by more than a tolerance (see
// WithTolerance), and the re-arm delay after each fire cycle is floored at the
// same tolerance, so bursts of near-simultaneous registrations converge onto
// one wakeup. Timing is therefore best-effort, and coarse: callbacks run no
// earlier than their deadline, but possibly up to a tolerance (plus scheduling
// latency) later.
//
// A Scheduler is single-threaded. In a program where the wakeup fires on
// another goroutine (the default), configure an Executor, such as
// [github.com/joeycumines/go-timerbatch/loop.Loop], and only use the
// Scheduler from within it.
package timerbatch
