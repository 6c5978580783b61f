package events

const (
	// KindSessionStateChanged identifies controller lifecycle transitions.
	KindSessionStateChanged Kind = "session.state_changed"
	// KindBackendWarmupFailed identifies non-fatal warm-up failures.
	KindBackendWarmupFailed Kind = "session.backend_warmup_failed"
)

// SessionStateChanged marks a controller state transition.
type SessionStateChanged struct {
	Base
	State string
	// Message carries a human-readable failure description for error states.
	Message string
}

// NewSessionStateChanged creates a session state transition event.
func NewSessionStateChanged(state, message string) SessionStateChanged {
	return SessionStateChanged{Base: NewBase(KindSessionStateChanged), State: state, Message: message}
}

// BackendWarmupFailed marks a failed speculative warm-up attempt. The next
// session start falls back to a cold start; nothing is broken.
type BackendWarmupFailed struct {
	Base
	Message string
}

// NewBackendWarmupFailed creates a warm-up failure event.
func NewBackendWarmupFailed(message string) BackendWarmupFailed {
	return BackendWarmupFailed{Base: NewBase(KindBackendWarmupFailed), Message: message}
}
