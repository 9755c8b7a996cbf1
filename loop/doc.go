// Package loop provides a minimal single-goroutine task loop, which may be
// used as the single logical thread of control that a
// [github.com/joeycumines/go-timerbatch.Scheduler] requires.
//
// A Loop implements [github.com/joeycumines/go-timerbatch.Executor].
package loop
