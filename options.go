// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package timerbatch

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// DefaultTolerance is the default coalescing tolerance, approximately one
// rendering frame.
const DefaultTolerance = 16 * time.Millisecond

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	clock        clock.Clock
	wakeup       Wakeup
	executor     Executor
	logger       *logiface.Logger[logiface.Event]
	panicLimiter *catrate.Limiter
	panicHandler func(err error)
	tolerance    time.Duration
	repanic      bool
}

// Option configures a Scheduler instance.
type Option interface {
	applyScheduler(*schedulerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (o *optionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applySchedulerFunc(opts)
}

// WithTolerance sets the coalescing tolerance, which is both the minimum
// amount an earlier deadline must precede the armed wakeup by, to justify
// re-arming it, and the minimum delay used when re-arming after a fire cycle.
// Defaults to DefaultTolerance. Zero disables coalescing.
func WithTolerance(d time.Duration) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if d < 0 {
			return fmt.Errorf(`%w: %s`, ErrInvalidTolerance, d)
		}
		opts.tolerance = d
		return nil
	}}
}

// WithClock sets the clock used to determine deadlines. Unless WithWakeup is
// also provided, the clock will also be used as the wakeup primitive.
// Defaults to the system clock.
func WithClock(c clock.Clock) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.clock = c
		return nil
	}}
}

// WithWakeup sets the underlying wakeup primitive.
func WithWakeup(w Wakeup) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.wakeup = w
		return nil
	}}
}

// WithExecutor configures fire cycles to be submitted to e, which should be
// the same thread of control that calls Add, Remove, and Dispose. Without
// it, fire cycles run on the wakeup's goroutine, and calling Add from any
// other goroutine is a data race.
func WithExecutor(e Executor) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.executor = e
		return nil
	}}
}

// WithLogger sets the logger. Logging is disabled by default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithPanicLogRates limits how often callback panics are logged, per
// callback type, see [catrate.NewLimiter]. A nil or empty map disables the
// limit. Panics are always counted, and passed to any panic handler.
func WithPanicLogRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *schedulerOptions) (err error) {
		if len(rates) == 0 {
			opts.panicLimiter = nil
			return nil
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf(`timerbatch: invalid panic log rates: %v`, r)
			}
		}()
		opts.panicLimiter = catrate.NewLimiter(rates)
		return nil
	}}
}

// WithPanicHandler sets a function to receive the faults of each fire cycle
// that had at least one callback panic. The error combines one *PanicError
// per panic, see [go.uber.org/multierr.Errors]. It is called after the
// cycle's bookkeeping completes.
func WithPanicHandler(fn func(err error)) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.panicHandler = fn
		return nil
	}}
}

// WithRepanic sets whether the combined faults of a fire cycle are re-raised,
// via panic, once its bookkeeping is complete. Disabled by default, in which
// case panics are only logged, and passed to any panic handler.
func WithRepanic(enabled bool) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.repanic = enabled
		return nil
	}}
}

// resolveSchedulerOptions applies Option instances to schedulerOptions.
func resolveSchedulerOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		tolerance: DefaultTolerance,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.clock == nil {
		cfg.clock = clock.New()
	}
	if cfg.wakeup == nil {
		cfg.wakeup = ClockWakeup(cfg.clock)
	}
	return cfg, nil
}
