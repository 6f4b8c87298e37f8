package live

import (
	"fmt"
	"time"
)

// Status is the connection phase of a Client.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusBackoff
	StatusGaveUp
	StatusClosed
)

var statusNames = [...]string{
	StatusDisconnected: "disconnected",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
	StatusBackoff:      "backoff",
	StatusGaveUp:       "gave_up",
	StatusClosed:       "closed",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Event is an input to the state machine.
type Event int

const (
	// EventStart requests the first connection.
	EventStart Event = iota
	// EventConnected reports a successful token fetch and dial.
	EventConnected
	// EventFailed reports a failed token fetch or dial.
	EventFailed
	// EventDropped reports a transport error or close on a live connection.
	EventDropped
	// EventRetry is the backoff timer firing.
	EventRetry
	// EventResume is the client becoming visible again.
	EventResume
	// EventClose is an explicit teardown.
	EventClose
)

var eventNames = [...]string{
	EventStart:     "start",
	EventConnected: "connected",
	EventFailed:    "failed",
	EventDropped:   "dropped",
	EventRetry:     "retry",
	EventResume:    "resume",
	EventClose:     "close",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// State is the client-local connection state. Attempt counts consecutive
// failures since the last successful connection.
type State struct {
	Status  Status
	Attempt int
}

func (s State) String() string {
	return fmt.Sprintf("%s (attempt %d)", s.Status, s.Attempt)
}

// Defaults for Policy.
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 10
)

// Policy holds the retry parameters.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultPolicy returns the standard retry parameters.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay, MaxAttempts: DefaultMaxAttempts}
}

func (p Policy) withDefaults() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// Delay returns the wait after attempt consecutive failures:
// min(BaseDelay * 2^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// Next returns the state after ev using DefaultPolicy.
func Next(s State, ev Event) State {
	return DefaultPolicy().Next(s, ev)
}

// Next is the pure transition function. Inputs that make no sense in the
// current state leave it unchanged.
func (p Policy) Next(s State, ev Event) State {
	p = p.withDefaults()

	if ev == EventClose {
		return State{Status: StatusClosed, Attempt: s.Attempt}
	}

	switch s.Status {
	case StatusDisconnected:
		if ev == EventStart || ev == EventResume {
			s.Status = StatusConnecting
		}
	case StatusConnecting:
		switch ev {
		case EventConnected:
			return State{Status: StatusConnected}
		case EventFailed, EventDropped:
			return p.fail(s)
		}
	case StatusConnected:
		if ev == EventDropped || ev == EventFailed {
			return p.fail(s)
		}
	case StatusBackoff:
		if ev == EventRetry || ev == EventResume {
			s.Status = StatusConnecting
		}
	case StatusGaveUp, StatusClosed:
		// Terminal.
	}
	return s
}

func (p Policy) fail(s State) State {
	s.Attempt++
	if s.Attempt >= p.MaxAttempts {
		s.Status = StatusGaveUp
	} else {
		s.Status = StatusBackoff
	}
	return s
}
