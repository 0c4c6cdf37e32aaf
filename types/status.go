package types

// RunState represents the possible states of a test node
type RunState string

const (
	StateUnset     RunState = "unset"
	StateRunning   RunState = "running"
	StatePassed    RunState = "passed"
	StateFailed    RunState = "failed"
	StateErrored   RunState = "errored"
	StateSkipped   RunState = "skipped"
	StateTimedOut  RunState = "timedout"
	StateCancelled RunState = "cancelled"
)

// Terminal reports whether the state is a final per-run outcome.
func (s RunState) Terminal() bool {
	switch s {
	case StatePassed, StateFailed, StateErrored, StateSkipped, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Failure reports whether the state counts against the run outcome.
func (s RunState) Failure() bool {
	return s == StateFailed || s == StateErrored || s == StateTimedOut
}
