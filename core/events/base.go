package events

import "time"

// Kind is the dot-namespaced event identifier, e.g. "transcript.updated".
type Kind string

// Event is implemented by every engine event. Concrete events embed Base and
// add their payload fields.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base carries the identity common to all events. Construct it with NewBase
// so the emission timestamp is always set.
type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}
