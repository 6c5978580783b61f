package deepgram

import (
	"context"
	"testing"
	"time"

	"github.com/justsay/livecap-core/core/transcript"
)

func drainEvent(t *testing.T, ch *Channel) transcript.Event {
	t.Helper()
	select {
	case event := <-ch.Events():
		return event
	case <-time.After(time.Second):
		t.Fatalf("expected an event, got none")
		return transcript.Event{}
	}
}

func expectNoEvent(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case event := <-ch.Events():
		t.Fatalf("expected no event, got %q", event.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProcessMessageInterimEmitsPartial(t *testing.T) {
	ch := NewChannel()

	ch.processMessage([]byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {"alternatives": [{
			"transcript": "hello wor",
			"words": [{"word": "hello", "speaker": 0}]
		}]}
	}`))

	event := drainEvent(t, ch)
	if event.Kind != transcript.EventPartial {
		t.Fatalf("expected partial event, got %q", event.Kind)
	}
	if event.CurrentSpeakerSegment == nil {
		t.Fatalf("expected a current segment, got none")
	}
	if event.CurrentSpeakerSegment.Text != "hello wor" {
		t.Fatalf("expected current text %q, got %q", "hello wor", event.CurrentSpeakerSegment.Text)
	}
	if len(event.SpeakerSegments) != 0 {
		t.Fatalf("expected no finalized segments, got %d", len(event.SpeakerSegments))
	}
}

func TestProcessMessageInterimDoesNotAccumulate(t *testing.T) {
	ch := NewChannel()

	ch.processMessage([]byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "hello"}]}
	}`))
	drainEvent(t, ch)

	ch.processMessage([]byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "hello world"}]}
	}`))

	event := drainEvent(t, ch)
	if got := event.CurrentSpeakerSegment.Text; got != "hello world" {
		t.Fatalf("expected interim replay %q, got %q", "hello world", got)
	}
}

func TestProcessMessageFinalAccumulates(t *testing.T) {
	ch := NewChannel()

	ch.processMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {"alternatives": [{"transcript": "hello world"}]}
	}`))
	drainEvent(t, ch)

	ch.processMessage([]byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "how are"}]}
	}`))

	event := drainEvent(t, ch)
	if got := event.CurrentSpeakerSegment.Text; got != "hello world how are" {
		t.Fatalf("expected accumulated text %q, got %q", "hello world how are", got)
	}
}

func TestProcessMessageSpeechFinalClosesUtterance(t *testing.T) {
	ch := NewChannel()

	ch.processMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"speech_final": true,
		"channel": {"alternatives": [{
			"transcript": "hello world",
			"words": [{"word": "hello", "speaker": 1}]
		}]}
	}`))

	partial := drainEvent(t, ch)
	if partial.Kind != transcript.EventPartial {
		t.Fatalf("expected partial before final, got %q", partial.Kind)
	}

	final := drainEvent(t, ch)
	if final.Kind != transcript.EventFinal {
		t.Fatalf("expected final event, got %q", final.Kind)
	}
	if final.CurrentSpeakerSegment == nil || final.CurrentSpeakerSegment.Text != "hello world" {
		t.Fatalf("expected closed segment %q, got %+v", "hello world", final.CurrentSpeakerSegment)
	}
	if final.CurrentSpeakerSegment.Speaker != 1 {
		t.Fatalf("expected speaker 1, got %d", final.CurrentSpeakerSegment.Speaker)
	}
}

func TestUtteranceEndClosesUtterance(t *testing.T) {
	ch := NewChannel()

	ch.processMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {"alternatives": [{"transcript": "hello"}]}
	}`))
	drainEvent(t, ch)

	ch.processMessage([]byte(`{"type": "UtteranceEnd"}`))

	final := drainEvent(t, ch)
	if final.Kind != transcript.EventFinal {
		t.Fatalf("expected final event, got %q", final.Kind)
	}
	if final.CurrentSpeakerSegment.Text != "hello" {
		t.Fatalf("expected closed text %q, got %q", "hello", final.CurrentSpeakerSegment.Text)
	}
}

func TestUtteranceEndWithoutTextIsNoop(t *testing.T) {
	ch := NewChannel()

	ch.processMessage([]byte(`{"type": "UtteranceEnd"}`))

	expectNoEvent(t, ch)
}

func TestSpeakerChangeClosesRunningUtterance(t *testing.T) {
	ch := NewChannel()

	ch.processMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {"alternatives": [{
			"transcript": "hello there",
			"words": [{"word": "hello", "speaker": 0}]
		}]}
	}`))
	drainEvent(t, ch)

	ch.processMessage([]byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {"alternatives": [{
			"transcript": "hi",
			"words": [{"word": "hi", "speaker": 1}]
		}]}
	}`))

	final := drainEvent(t, ch)
	if final.Kind != transcript.EventFinal {
		t.Fatalf("expected final for the interrupted speaker, got %q", final.Kind)
	}
	if final.CurrentSpeakerSegment.Speaker != 0 || final.CurrentSpeakerSegment.Text != "hello there" {
		t.Fatalf("expected speaker 0 segment %q, got %+v", "hello there", final.CurrentSpeakerSegment)
	}

	rollover := drainEvent(t, ch)
	if rollover.Kind != transcript.EventPartial {
		t.Fatalf("expected partial after speaker change, got %q", rollover.Kind)
	}
	if len(rollover.SpeakerSegments) != 1 {
		t.Fatalf("expected one finalized segment, got %d", len(rollover.SpeakerSegments))
	}

	partial := drainEvent(t, ch)
	if partial.CurrentSpeakerSegment.Speaker != 1 || partial.CurrentSpeakerSegment.Text != "hi" {
		t.Fatalf("expected speaker 1 current %q, got %+v", "hi", partial.CurrentSpeakerSegment)
	}
}

func TestEmptyTranscriptEmitsNothing(t *testing.T) {
	ch := NewChannel()

	ch.processMessage([]byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "  "}]}
	}`))

	expectNoEvent(t, ch)
}

func TestErrorResponseSurfacesErrorEvent(t *testing.T) {
	ch := NewChannel()

	ch.processMessage([]byte(`{"type": "Error", "description": "stream limit reached"}`))

	event := drainEvent(t, ch)
	if event.Kind != transcript.EventError {
		t.Fatalf("expected error event, got %q", event.Kind)
	}
	if event.Message != "stream limit reached" {
		t.Fatalf("expected error message %q, got %q", "stream limit reached", event.Message)
	}
}

func TestSendAudioRequiresConnection(t *testing.T) {
	ch := NewChannel()

	if err := ch.SendAudio([]byte{0x00}); err == nil {
		t.Fatalf("expected an error sending audio without a connection")
	}
}

func TestEndSessionResetsFinalizedSegments(t *testing.T) {
	ch := NewChannel()

	ch.processMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"speech_final": true,
		"channel": {"alternatives": [{"transcript": "hello"}]}
	}`))
	drainEvent(t, ch)
	drainEvent(t, ch)

	if err := ch.EndSession(context.Background()); err != nil {
		t.Fatalf("unexpected error ending session: %v", err)
	}

	ch.utteranceMu.Lock()
	finalized := len(ch.finalized)
	ch.utteranceMu.Unlock()
	if finalized != 0 {
		t.Fatalf("expected finalized segments to reset, got %d", finalized)
	}
}

func TestEndSessionDropsTrailingResults(t *testing.T) {
	ch := NewChannel()

	ch.processMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {"alternatives": [{"transcript": "wrap up"}]}
	}`))
	drainEvent(t, ch)

	if err := ch.EndSession(context.Background()); err != nil {
		t.Fatalf("unexpected error ending session: %v", err)
	}

	event := drainEvent(t, ch)
	if event.Kind != transcript.EventFinal || event.CurrentSpeakerSegment.Text != "wrap up" {
		t.Fatalf("expected trailing final %q, got %+v", "wrap up", event)
	}

	// The backend's answer to the Finalize repeats the result already
	// closed locally; it must not surface a second time.
	ch.processMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"speech_final": true,
		"channel": {"alternatives": [{"transcript": "wrap up"}]}
	}`))
	ch.processMessage([]byte(`{"type": "UtteranceEnd"}`))
	expectNoEvent(t, ch)
}

func TestCloseIsIdempotent(t *testing.T) {
	ch := NewChannel()

	if err := ch.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error closing channel: %v", err)
	}
	if err := ch.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error closing channel twice: %v", err)
	}

	if _, ok := <-ch.Events(); ok {
		t.Fatalf("expected events channel to be closed")
	}
}
