package timerbatch

import (
	"errors"
	"fmt"
	"time"
)

// Standard errors.
var (
	// ErrDisposed is returned when a Scheduler is used after Dispose.
	ErrDisposed = errors.New("timerbatch: scheduler has been disposed")

	// ErrInvalidTolerance is returned by New for a negative coalescing tolerance.
	ErrInvalidTolerance = errors.New("timerbatch: tolerance must not be negative")
)

// PanicError models a panic recovered from a Callback, during a fire cycle.
type PanicError struct {
	// Value is the value passed to panic.
	Value any

	// Callback is the handle that panicked.
	Callback Callback

	// Deadline is the deadline the callback was registered for.
	Deadline time.Time

	// Stack is the goroutine stack at the point of recovery.
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("timerbatch: callback panicked: %v", e.Value)
}

// Unwrap returns the panic value, if it is an error, for use with
// [errors.Is] and [errors.As].
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
