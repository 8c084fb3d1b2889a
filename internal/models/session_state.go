package models

type SessionState string

const (
	StatePendingSession       SessionState = "PENDING_SESSION"
	StateAwaitingConfirmation SessionState = "AWAITING_CONFIRMATION"
	StateConfirmed            SessionState = "CONFIRMED"
	StatePersisted            SessionState = "PERSISTED"
	StateFailed               SessionState = "FAILED"
)

func (s SessionState) IsTerminal() bool {
	return s == StatePersisted || s == StateFailed
}

func (s SessionState) String() string {
	return string(s)
}

var transitions = map[SessionState][]SessionState{
	StatePendingSession:       {StateAwaitingConfirmation, StateConfirmed, StateFailed},
	StateAwaitingConfirmation: {StateConfirmed, StateFailed},
	StateConfirmed:            {StatePersisted},
	StateFailed:               {StateConfirmed},
}

// CanTransitionTo reports whether next is a legal successor. A failed
// attempt may still be confirmed by a late provider event.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
