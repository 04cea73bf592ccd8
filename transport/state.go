package transport

import (
	"fmt"
	"sync"
)

// State is the lifecycle state of a Conn or Listener. Exactly one state holds at a time.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ServerStarting
	ServerListening
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case ServerStarting:
		return "SERVER_STARTING"
	case ServerListening:
		return "SERVER_LISTENING"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsTerminal reports whether s is Disconnected or Error. Once a started instance reaches one
// of them it never leaves it.
func (s State) IsTerminal() bool {
	return s == Disconnected || s == Error
}

// status guards a state together with its error text.
// Error always carries a non-empty message; every other state carries none.
type status struct {
	mu    sync.Mutex
	state State
	err   string
}

func (s *status) set(state State, errString string) {
	if state == Error && errString == "" {
		panic("transport: ERROR state requires an error message")
	}
	if state != Error && errString != "" {
		panic(fmt.Sprintf("transport: %s state cannot carry an error message", state))
	}
	s.mu.Lock()
	s.state = state
	s.err = errString
	s.mu.Unlock()
}

func (s *status) fail(err error) {
	msg := err.Error()
	if msg == "" {
		msg = "unknown error"
	}
	s.set(Error, msg)
}

// transition moves from one state to another only if from is still current.
func (s *status) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	s.err = ""
	return true
}

func (s *status) get() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}
