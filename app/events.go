package app

import "time"

// EventKind discriminates coordinator events.
type EventKind int

const (
	// EventState reports a state transition.
	EventState EventKind = iota
	// EventLevel carries the input meter reading.
	EventLevel
	// EventPartial carries replaceable preview text.
	EventPartial
	// EventCommitted carries final text that was (or is about to be) injected.
	EventCommitted
	// EventSilence warns that the mic has been quiet for a while.
	EventSilence
	// EventError surfaces a failure to the shell.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventLevel:
		return "level"
	case EventPartial:
		return "partial"
	case EventCommitted:
		return "committed"
	case EventSilence:
		return "silence"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one unit of coordinator output. The shell consumes these off a
// buffered channel; it never calls back into the coordinator from the
// delivery path.
type Event struct {
	Kind EventKind
	At   time.Time

	// EventState
	From State
	To   State

	// EventLevel
	RMS  float32
	Peak float32

	// EventPartial / EventCommitted
	Text       string
	Confidence float64

	// EventError
	Err         error
	Recoverable bool
}
