package events

import "github.com/justsay/livecap-core/core/transcript"

const (
	// KindTranscriptUpdated identifies assembled transcript snapshots.
	KindTranscriptUpdated Kind = "transcript.updated"
	// KindUserAudioFrame identifies raw captured audio chunks.
	KindUserAudioFrame Kind = "user_input.audio_frame"
)

// TranscriptUpdated carries the assembled transcript after one recognition
// event was processed. Segments and Current are deep copies and safe to
// retain.
type TranscriptUpdated struct {
	Base
	IsFinal  bool
	Segments []transcript.SpeakerSegment
	Current  *transcript.SpeakerSegment
}

// NewTranscriptUpdated creates a transcript snapshot event.
func NewTranscriptUpdated(update transcript.Update) TranscriptUpdated {
	return TranscriptUpdated{
		Base:     NewBase(KindTranscriptUpdated),
		IsFinal:  update.IsFinal,
		Segments: update.Segments,
		Current:  update.Current,
	}
}

// UserAudioFrame carries a captured audio chunk.
type UserAudioFrame struct {
	Base
	Audio []byte
}

// NewUserAudioFrame creates an audio chunk event.
func NewUserAudioFrame(audio []byte) UserAudioFrame {
	return UserAudioFrame{Base: NewBase(KindUserAudioFrame), Audio: audio}
}
