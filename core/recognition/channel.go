// Package recognition defines the channel abstraction between the session
// engine and a speech-recognition backend, local or remote.
package recognition

import (
	"context"

	"github.com/justsay/livecap-core/core/transcript"
)

// Channel is a bidirectional connection to one recognition backend instance.
//
// A channel outlives individual sessions: the readiness manager owns it and
// decides when Close actually happens, while a session only borrows it
// between Connect/EndSession.
type Channel interface {
	// Connect brings the backend into a ready, session-begun state.
	// Connect is safe for concurrent use and is a no-op once the channel is
	// connected; an abandoned warm-up and a cold start may race on the same
	// channel and the duplicate attempt must collapse.
	Connect(ctx context.Context, opts ...ConnectOption) error

	// Healthy performs a direct, bounded readiness probe against the
	// backend. A negative result is normal, never an error.
	Healthy(ctx context.Context) bool

	// SendAudio forwards one PCM chunk. Chunks arrive at the backend in
	// send order; implementations document their backpressure policy at
	// this call site.
	SendAudio(audio []byte) error

	// Events returns the discriminated recognition event stream. Closing
	// the returned channel is the single authoritative "no more events"
	// signal.
	Events() <-chan transcript.Event

	// EndSession asks the backend to finalize in-flight audio and emit any
	// trailing final event. The connection stays usable for the next
	// session.
	EndSession(ctx context.Context) error

	// Close tears the connection down for good.
	Close(ctx context.Context) error
}
