package transcript

import (
	"unicode/utf8"

	"github.com/jinzhu/copier"
)

// Assembler turns a stream of possibly-overlapping recognition events into a
// stable append-only transcript plus one rapidly-updating current segment.
//
// The assembler is a pure reducer: it holds no timers, performs no I/O, and
// must only ever be driven from a single goroutine per session.
type Assembler struct {
	// segments only grows during a session; appended elements are never
	// mutated again.
	segments []SpeakerSegment
	// current is the sole mutable segment; nil when no segment is in progress.
	current *SpeakerSegment
	// lastCurrentText is the baseline for the stable/preview diff.
	lastCurrentText string
}

// Update is the externally visible result of applying one event. All slices
// and pointers are deep copies; consumers may retain them freely.
type Update struct {
	IsFinal  bool
	Segments []SpeakerSegment
	Current  *SpeakerSegment
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Apply folds one recognition event into the assembler state and returns the
// resulting update. Events carrying neither a final nor a partial payload are
// treated as empty partial updates, never as failures.
func (a *Assembler) Apply(event Event) Update {
	if event.Kind == EventFinal {
		return a.applyFinal(event)
	}

	return a.applyPartial(event)
}

func (a *Assembler) applyFinal(event Event) Update {
	if segment := event.CurrentSpeakerSegment; segment != nil && segment.Text != "" {
		closed := *segment
		closed.StableText = closed.Text
		closed.PreviewText = ""
		a.segments = append(a.segments, closed)
	}

	a.current = nil
	a.lastCurrentText = ""

	return a.snapshot(true)
}

func (a *Assembler) applyPartial(event Event) Update {
	// The backend's completed-segment list is authoritative; only the suffix
	// beyond what has already been appended is new. Re-delivering an
	// already-seen prefix yields an empty suffix and is a no-op.
	if len(event.SpeakerSegments) > len(a.segments) {
		for _, segment := range event.SpeakerSegments[len(a.segments):] {
			if segment.Text == "" {
				continue
			}

			closed := segment
			closed.StableText = closed.Text
			closed.PreviewText = ""
			a.segments = append(a.segments, closed)
		}
	}

	segment := event.CurrentSpeakerSegment
	if segment == nil || segment.Text == "" {
		a.current = nil
		a.lastCurrentText = ""
		return a.snapshot(false)
	}

	stable := commonPrefix(a.lastCurrentText, segment.Text)

	next := *segment
	next.StableText = segment.Text[:stable]
	next.PreviewText = segment.Text[stable:]

	a.current = &next
	a.lastCurrentText = segment.Text

	return a.snapshot(false)
}

// StableCount reports how many segments have been appended to the stable
// transcript so far. Callers can use it to tell which entries of a partial
// event's completed-segment list are new before applying the event.
func (a *Assembler) StableCount() int {
	return len(a.segments)
}

// Reset discards all accumulated state, returning the assembler to its
// session-start condition.
func (a *Assembler) Reset() {
	a.segments = nil
	a.current = nil
	a.lastCurrentText = ""
}

// Snapshot returns the current state as a non-final update without applying
// an event.
func (a *Assembler) Snapshot() Update {
	return a.snapshot(false)
}

// Flatten returns every segment including the still-open current segment
// coerced to final. Used to hand the transcript to persistence at stop.
func (a *Assembler) Flatten() []SpeakerSegment {
	update := a.snapshot(false)
	segments := update.Segments
	if update.Current != nil && update.Current.Text != "" {
		closed := *update.Current
		closed.StableText = closed.Text
		closed.PreviewText = ""
		segments = append(segments, closed)
	}

	return segments
}

func (a *Assembler) snapshot(isFinal bool) Update {
	update := Update{IsFinal: isFinal}

	if err := copier.CopyWithOption(&update.Segments, &a.segments, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on invalid source/destination kinds; slices of
		// structs are always valid, so fall back to a shallow copy.
		update.Segments = append([]SpeakerSegment(nil), a.segments...)
	}

	if a.current != nil {
		current := &SpeakerSegment{}
		if err := copier.CopyWithOption(current, a.current, copier.Option{DeepCopy: true}); err != nil {
			copied := *a.current
			current = &copied
		}
		update.Current = current
	}

	return update
}

// commonPrefix returns the byte length of the longest common prefix of a and
// b, never splitting a multi-byte rune.
func commonPrefix(a, b string) int {
	limit := min(len(a), len(b))

	i := 0
	for i < limit {
		ra, sizeA := utf8.DecodeRuneInString(a[i:])
		rb, sizeB := utf8.DecodeRuneInString(b[i:])
		if ra != rb || sizeA != sizeB {
			break
		}
		i += sizeA
	}

	return i
}
