package types

import "time"

// EventKind identifies one per-node or per-group lifecycle transition.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventPassed    EventKind = "passed"
	EventFailed    EventKind = "failed"
	EventErrored   EventKind = "errored"
	EventSkipped   EventKind = "skipped"
	EventCancelled EventKind = "cancelled"
	EventTimedOut  EventKind = "timedout"

	EventGroupRunning   EventKind = "group-running"
	EventGroupCompleted EventKind = "group-completed"
)

// State maps a terminal event kind to the node state it implies.
func (k EventKind) State() RunState {
	switch k {
	case EventStarted:
		return StateRunning
	case EventPassed:
		return StatePassed
	case EventFailed:
		return StateFailed
	case EventErrored:
		return StateErrored
	case EventSkipped:
		return StateSkipped
	case EventCancelled:
		return StateCancelled
	case EventTimedOut:
		return StateTimedOut
	}
	return StateUnset
}

// RunEvent is one emitted lifecycle event. Node events carry NodeID; group
// events carry GroupPath (root-exclusive label chain).
type RunEvent struct {
	Kind      EventKind
	NodeID    string
	GroupPath []string
	Message   string
	Duration  time.Duration
}

// EventSink consumes emitted run events.
type EventSink interface {
	Emit(ev RunEvent)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ev RunEvent)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(ev RunEvent) { f(ev) }
