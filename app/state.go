package app

import "voxd/scribe"

// State is the single application-visible value the shell renders. It
// aggregates the session state machine and dispatcher activity.
type State int

const (
	Idle State = iota
	Connecting
	Listening
	Transcribing
	Injecting
	Reconnecting
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Listening:
		return "listening"
	case Transcribing:
		return "transcribing"
	case Injecting:
		return "injecting"
	case Reconnecting:
		return "reconnecting"
	case Error:
		return "error"
	}
	return "unknown"
}

// fromSession maps a session state onto the application state. Connected is
// still Connecting to the user: audio does not flow until the provider acks.
func fromSession(s scribe.State) State {
	switch s {
	case scribe.Disconnected:
		return Idle
	case scribe.Connecting, scribe.Connected:
		return Connecting
	case scribe.Listening:
		return Listening
	case scribe.Transcribing:
		return Transcribing
	case scribe.Injecting:
		return Injecting
	case scribe.Reconnecting:
		return Reconnecting
	case scribe.Errored:
		return Error
	}
	return Idle
}
