package loop

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/joeycumines/logiface"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("loop: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("loop: loop has been terminated")

	// ErrReentrantRun is returned when Run() is called from within the loop itself.
	ErrReentrantRun = errors.New("loop: cannot call Run() from within the loop")

	// ErrReentrantShutdown is returned when Shutdown() is called from within
	// the loop itself, as it would wait on itself.
	ErrReentrantShutdown = errors.New("loop: cannot call Shutdown() from within the loop")
)

// Loop runs submitted tasks one at a time, in submission order, on the
// goroutine that called Run.
//
// All methods are safe to call from any goroutine.
// Instances must be initialized using the New factory.
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	logger *logiface.Logger[logiface.Event]

	// tasks is a FIFO of func(), guarded by mu
	tasks *queue.Queue
	mu    sync.Mutex

	// wake is signaled (non-blocking) on submit and state changes
	wake chan struct{}

	// loopDone is closed once the loop has terminated
	loopDone chan struct{}
	doneOnce sync.Once

	state           atomicState
	closing         atomic.Bool
	loopGoroutineID atomic.Uint64
}

// New creates a new Loop, which must be started using Run.
func New(opts ...Option) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Loop{
		logger:   cfg.logger,
		tasks:    queue.New(),
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
	}, nil
}

// Run runs the loop and blocks until fully stopped, via Shutdown, Close, or
// ctx cancellation. Tasks submitted prior to Run are retained.
//
// To run in a separate goroutine, use: `go loop.Run(ctx)`.
func (l *Loop) Run(ctx context.Context) error {
	if l.IsLoopThread() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(StateAwake, StateRunning) {
		switch l.state.Load() {
		case StateTerminating, StateTerminated:
			return ErrLoopTerminated
		default:
			return ErrLoopAlreadyRunning
		}
	}

	defer l.markDone()

	return l.run(ctx)
}

// run is the main loop goroutine.
func (l *Loop) run(ctx context.Context) error {
	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	for {
		if err := ctx.Err(); err != nil {
			l.terminate()
			return err
		}

		if l.closing.Load() {
			l.terminate()
			return nil
		}

		if task, ok := l.pop(); ok {
			l.safeExecute(task)
			continue
		}

		// queue is drained, complete graceful shutdown
		if l.state.Load() == StateTerminating {
			l.terminate()
			return nil
		}

		select {
		case <-ctx.Done():
		case <-l.wake:
		}
	}
}

// Submit enqueues fn, to be run on the loop. Tasks are accepted until the
// loop has terminated, including while a graceful shutdown is in progress.
// A panic will occur if fn is nil.
func (l *Loop) Submit(fn func()) error {
	if fn == nil {
		panic(`loop: nil task`)
	}

	l.mu.Lock()
	if l.state.Load() == StateTerminated {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	l.tasks.Add(fn)
	l.mu.Unlock()

	l.signal()

	return nil
}

// Do runs fn on the loop, and waits for it to return. If called from the
// loop itself, fn is run immediately. An error will be returned if the loop
// terminates, or ctx is canceled, before fn has run, though fn may still run
// if ctx is canceled after it was submitted.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if l.IsLoopThread() {
		fn()
		return nil
	}

	done := make(chan struct{})
	if err := l.Submit(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-l.loopDone:
		// may have raced with termination
		select {
		case <-done:
			return nil
		default:
			return ErrLoopTerminated
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown gracefully shuts down the loop, running all queued tasks first.
// It blocks until termination completes or ctx expires.
//
// If Run has not been called, the loop terminates immediately, and any
// queued tasks are discarded, as there is no goroutine to run them.
func (l *Loop) Shutdown(ctx context.Context) error {
	if l.IsLoopThread() {
		return ErrReentrantShutdown
	}

	for {
		current := l.state.Load()
		if current == StateTerminated {
			return ErrLoopTerminated
		}
		if current == StateTerminating {
			break
		}
		if l.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				l.terminate()
				l.markDone()
				return nil
			}
			l.signal()
			break
		}
	}

	// Wait for termination via channel, NOT polling
	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close immediately terminates the loop, discarding any queued tasks. It
// does not wait for a task that is currently running.
func (l *Loop) Close() error {
	l.closing.Store(true)
	for {
		current := l.state.Load()
		if current == StateTerminated {
			return ErrLoopTerminated
		}
		if current == StateTerminating {
			l.signal()
			return nil
		}
		if l.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				l.terminate()
				l.markDone()
				return nil
			}
			l.signal()
			return nil
		}
	}
}

// Done returns a channel that is closed once the loop has terminated.
func (l *Loop) Done() <-chan struct{} {
	return l.loopDone
}

// State returns the current loop state.
func (l *Loop) State() State {
	return l.state.Load()
}

// IsLoopThread returns true if called from the goroutine running the loop.
func (l *Loop) IsLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

func (l *Loop) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tasks.Length() == 0 {
		return nil, false
	}
	return l.tasks.Remove().(func()), true
}

// terminate stores StateTerminated, and discards any remaining tasks.
func (l *Loop) terminate() {
	l.mu.Lock()
	l.state.Store(StateTerminated)
	dropped := l.tasks.Length()
	if dropped != 0 {
		l.tasks = queue.New()
	}
	l.mu.Unlock()

	if dropped != 0 {
		l.logger.Warning().
			Int(`dropped`, dropped).
			Log(`loop: discarded queued tasks on termination`)
	}
}

func (l *Loop) markDone() {
	l.doneOnce.Do(func() { close(l.loopDone) })
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// safeExecute executes a task with panic recovery.
func (l *Loop) safeExecute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Err().
				Any(`panic`, r).
				Str(`stack`, string(debug.Stack())).
				Log(`loop: task panicked`)
		}
	}()
	fn()
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
