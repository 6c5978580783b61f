package session

import (
	"context"
	"time"

	"github.com/justsay/livecap-core/core/audio"
	"github.com/justsay/livecap-core/core/recognition"
	"github.com/justsay/livecap-core/core/transcript"
	"github.com/justsay/livecap-core/core/translate"
)

type SessionOption func(*Session)

// WithRecognitionChannel wires the recognition backend the session will
// transcribe against. The channel is owned by the session's readiness
// manager from this point on.
func WithRecognitionChannel(channel recognition.Channel) SessionOption {
	return func(s *Session) {
		s.readiness = newReadinessManager(channel, s.warmupFailed)
	}
}

func WithTranslator(translator translate.Translator) SessionOption {
	return func(s *Session) { s.translator = translator }
}

// Persistence receives the flattened transcript once at a successful stop.
type Persistence interface {
	Save(ctx context.Context, summary SessionSummary) error
}

// SessionSummary is the durable record of one finished session.
type SessionSummary struct {
	ID                 string                      `json:"id"`
	StartedAt          time.Time                   `json:"started_at"`
	DurationSeconds    float64                     `json:"duration_seconds"`
	Segments           []transcript.SpeakerSegment `json:"segments"`
	TranslationEnabled bool                        `json:"translation_enabled"`
	IncludeMicrophone  bool                        `json:"include_microphone"`
}

func WithPersistence(persistence Persistence) SessionOption {
	return func(s *Session) { s.persistence = persistence }
}

// AudioInput is a capture source streaming fixed-size PCM chunks.
type AudioInput interface {
	EncodingInfo() audio.EncodingInfo
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	Close()
}

// AudioInputFine is implemented by capture sources with explicit
// start/stop controls, allowing capture to pause without closing the device.
type AudioInputFine interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

func WithMicrophone(client AudioInput) SessionOption {
	return func(s *Session) { s.microphone.Set(client) }
}

func WithSystemAudio(client AudioInput) SessionOption {
	return func(s *Session) { s.systemAudio.Set(client) }
}

// WithConnectOptions pins backend selection details (model, language,
// diarization) used for warm-up and every session start.
func WithConnectOptions(opts ...recognition.ConnectOption) SessionOption {
	return func(s *Session) { s.connectOpts = opts }
}

const defaultReadyTimeout = 2500 * time.Millisecond

// StartOptions is the immutable per-session configuration snapshot.
// Changing any of it requires stopping and starting a new session.
type StartOptions struct {
	readyTimeout      time.Duration
	targetLanguage    string
	captureMicrophone bool

	onTranscript func(update transcript.Update)
	onStatus     func(state State, message string)
	onInputAudio func(audio []byte)
}

type StartOption func(*StartOptions)

func defaultStartOptions() StartOptions {
	return StartOptions{
		readyTimeout:      defaultReadyTimeout,
		captureMicrophone: true,
	}
}

// WithReadyTimeout bounds how long session start waits on an in-flight
// backend warm-up before falling back to a cold start.
func WithReadyTimeout(timeout time.Duration) StartOption {
	return func(o *StartOptions) { o.readyTimeout = timeout }
}

// WithTranslation enables sentence-level translation of finalized segments
// into the target language.
func WithTranslation(targetLanguage string) StartOption {
	return func(o *StartOptions) { o.targetLanguage = targetLanguage }
}

// WithMicrophoneCapture toggles the microphone source for this session.
// System audio capture is unaffected.
func WithMicrophoneCapture(enabled bool) StartOption {
	return func(o *StartOptions) { o.captureMicrophone = enabled }
}

// WithTranscriptCallback registers a callback fired on every processed
// recognition event with the assembled transcript snapshot.
func WithTranscriptCallback(callback func(update transcript.Update)) StartOption {
	return func(o *StartOptions) { o.onTranscript = callback }
}

// WithStatusCallback registers a callback fired on every session state
// transition. The message is non-empty only for error states.
func WithStatusCallback(callback func(state State, message string)) StartOption {
	return func(o *StartOptions) { o.onStatus = callback }
}

// WithInputAudioCallback registers a callback for raw captured audio chunks.
//
// The provided slice is passed through as-is (no defensive copy). The
// callback runs inline on the capture path and should not block.
func WithInputAudioCallback(callback func(audio []byte)) StartOption {
	return func(o *StartOptions) { o.onInputAudio = callback }
}
