package transcript

// EventKind discriminates recognition backend messages.
type EventKind string

const (
	// EventPartial identifies an incremental, still-revisable recognition result.
	EventPartial EventKind = "recognition.partial"
	// EventFinal identifies a terminal result that closes the current segment.
	EventFinal EventKind = "recognition.final"
	// EventError identifies a backend-reported failure.
	EventError EventKind = "recognition.error"
)

// Event is one message emitted by a recognition backend. Events are immutable
// once emitted and are delivered to the assembler in backend order.
type Event struct {
	Kind EventKind

	// SpeakerSegments is the backend's authoritative view of every segment
	// completed so far. Partial events only.
	SpeakerSegments []SpeakerSegment

	// CurrentSpeakerSegment is the in-progress segment. On partial events it
	// replaces the previous current segment wholesale; on final events it is
	// appended to the completed list.
	CurrentSpeakerSegment *SpeakerSegment

	// Message carries the failure description on error events.
	Message string
}

// NewPartialEvent creates a partial recognition event.
func NewPartialEvent(segments []SpeakerSegment, current *SpeakerSegment) Event {
	return Event{Kind: EventPartial, SpeakerSegments: segments, CurrentSpeakerSegment: current}
}

// NewFinalEvent creates a final recognition event closing the current segment.
func NewFinalEvent(current *SpeakerSegment) Event {
	return Event{Kind: EventFinal, CurrentSpeakerSegment: current}
}

// NewErrorEvent creates a backend failure event.
func NewErrorEvent(message string) Event {
	return Event{Kind: EventError, Message: message}
}

// SpeakerSegment is a stretch of transcribed speech attributed to one
// diarization speaker index. The index is a label, not an identity.
type SpeakerSegment struct {
	Speaker        int            `json:"speaker"`
	Text           string         `json:"text"`
	TranslatedText string         `json:"translatedText,omitempty"`
	SentencePairs  []SentencePair `json:"sentencePairs,omitempty"`

	// StableText and PreviewText are display hints the assembler sets on the
	// current segment only: the unchanged prefix since the previous update,
	// and the still-revisable remainder.
	StableText  string `json:"stableText,omitempty"`
	PreviewText string `json:"previewText,omitempty"`
}

// SentencePair is one aligned (original, translated) sentence unit. Pairs are
// ordered and keep translation synchronized at finer granularity than a whole
// segment.
type SentencePair struct {
	Original   string `json:"original"`
	Translated string `json:"translated,omitempty"`
}

// Pairs returns the segment's sentence pairs, synthesizing a single
// whole-segment pair when the backend supplied none. Downstream consumers can
// treat translated and untranslated segments uniformly through this accessor.
func (s SpeakerSegment) Pairs() []SentencePair {
	if len(s.SentencePairs) > 0 {
		return s.SentencePairs
	}

	return []SentencePair{{Original: s.Text, Translated: s.TranslatedText}}
}
