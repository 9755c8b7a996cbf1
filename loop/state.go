package loop

import (
	"sync/atomic"
)

// State represents the current state of a Loop.
//
// State Machine:
//
//	StateAwake → StateRunning             [Run()]
//	StateAwake → StateTerminating         [Shutdown() / Close()]
//	StateRunning → StateTerminating       [Shutdown() / Close() / ctx done]
//	StateTerminating → StateTerminated    [queue drained, or discarded]
//	StateTerminated → (terminal)
//
// Transitions out of StateAwake and StateRunning use CAS, StateTerminated is
// only ever stored.
type State uint32

const (
	// StateAwake indicates the loop has been created but not started.
	StateAwake State = iota
	// StateRunning indicates the loop is processing, or waiting for, tasks.
	StateRunning
	// StateTerminating indicates shutdown has been requested but not completed.
	StateTerminating
	// StateTerminated indicates the loop has stopped, and rejects all tasks.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// atomicState is a lock-free state holder.
type atomicState struct {
	v atomic.Uint32
}

func (s *atomicState) Load() State {
	return State(s.v.Load())
}

// Store atomically stores a new state, without validation.
func (s *atomicState) Store(state State) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *atomicState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
