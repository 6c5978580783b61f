// Package session implements the streaming transcription session engine: a
// readiness manager that keeps the recognition backend warm, a session
// controller that owns one transcription session's lifetime, and the event
// pump feeding the incremental transcript assembler.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/justsay/livecap-core/core/events"
	"github.com/justsay/livecap-core/core/recognition"
	"github.com/justsay/livecap-core/core/transcript"
	"github.com/justsay/livecap-core/core/translate"
	"go.opentelemetry.io/otel/codes"
)

// State is the session controller's lifecycle state. Exactly one session
// object should be active at a time; Start rejects callers while another
// session is running.
type State string

const (
	StateIdle         State = "idle"
	StateStarting     State = "starting"
	StateTranscribing State = "transcribing"
	StateStopping     State = "stopping"
	StateError        State = "error"
)

type Session struct {
	// lifecycleMu serializes Start, Stop and ForceReset against each other.
	// A Start arriving while a Stop is tearing down waits behind it.
	lifecycleMu sync.Mutex

	stateMu    sync.Mutex
	state      State
	errMessage string

	// stopping rejects re-entrant Stop calls while a teardown is running.
	stopping atomic.Bool

	readiness   *readinessManager
	assembler   *transcript.Assembler
	translator  translate.Translator
	persistence Persistence

	// microphone and systemAudio are the capture facades feeding the
	// session; either may be unconfigured.
	microphone  audioInput
	systemAudio audioInput

	connectOpts []recognition.ConnectOption

	emitEvent    eventEmitter
	startOptions StartOptions

	// per-run state, valid between a successful Start and the end of the
	// matching teardown. channel is additionally written under stateMu so
	// SendAudioChunk can read it without taking lifecycleMu.
	runID     string
	startedAt time.Time
	channel   recognition.Channel
	stopPump  chan struct{}
	pumpDone  chan struct{}

	closeOnce   sync.Once
	baseContext context.Context
}

func New(opts ...SessionOption) *Session {
	s := &Session{
		state:       StateIdle,
		assembler:   transcript.NewAssembler(),
		emitEvent:   noopEventEmitter,
		baseContext: context.Background(),
	}
	s.readiness = newReadinessManager(nil, s.warmupFailed)

	s.microphone = *newAudioInput(nil, s.forwardAudio)
	s.systemAudio = *newAudioInput(nil, s.forwardAudio)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// ErrorMessage returns the human-readable description of the last failure.
// Empty unless the session is in the error state.
func (s *Session) ErrorMessage() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.errMessage
}

// BeginWarmup speculatively readies the recognition backend so a later Start
// finds it connected. Safe to call at any time, including while a session is
// running.
func (s *Session) BeginWarmup(ctx context.Context) {
	s.readiness.BeginWarmup(ctx, s.connectOpts...)
}

// ProbeBackend synchronously reports backend health for connection-status
// indicators.
func (s *Session) ProbeBackend(ctx context.Context) bool {
	return s.readiness.Probe(ctx)
}

// BackendStatus reports the readiness manager's view of the backend.
func (s *Session) BackendStatus() BackendStatus {
	return s.readiness.Status()
}

// Start brings the backend to readiness, resets the assembler and begins
// audio capture. On failure the session lands in the error state and no
// partial session is left running.
func (s *Session) Start(ctx context.Context, opts ...StartOption) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	switch s.State() {
	case StateIdle:
	case StateError:
		// Release whatever the failure path left behind before reusing
		// the run slots.
		s.teardown(ctx, false)
		s.clearRunState()
	default:
		return fmt.Errorf("session already active in state %q", s.State())
	}

	ctx, span := tracer.Start(ctx, "start transcription session")
	defer span.End()

	s.startOptions = defaultStartOptions()
	for _, opt := range opts {
		opt(&s.startOptions)
	}
	s.emitEvent = newCallbackEventEmitter(s.startOptions)
	s.baseContext = context.WithoutCancel(ctx)

	s.setState(StateStarting, "")

	connectOpts := s.connectOpts
	if s.startOptions.targetLanguage != "" {
		connectOpts = append(connectOpts, recognition.WithTargetLanguage(s.startOptions.targetLanguage))
	}

	channel, err := s.readiness.EnsureReady(ctx, s.startOptions.readyTimeout, connectOpts...)
	if err != nil {
		err = fmt.Errorf("failed to ready recognition backend: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.setState(StateError, err.Error())
		return err
	}

	s.stateMu.Lock()
	s.channel = channel
	s.stateMu.Unlock()
	s.assembler.Reset()
	s.runID = uuid.NewString()
	s.startedAt = time.Now()

	s.stopPump = make(chan struct{})
	s.pumpDone = make(chan struct{})
	go s.pumpEvents(channel.Events(), s.stopPump, s.pumpDone)

	if s.startOptions.captureMicrophone {
		if err := s.microphone.Start(s.baseContext); err != nil {
			s.teardown(ctx, false)
			err = fmt.Errorf("failed to start microphone capture: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.setState(StateError, err.Error())
			return err
		}
	}
	if err := s.systemAudio.Start(s.baseContext); err != nil {
		s.teardown(ctx, false)
		err = fmt.Errorf("failed to start system audio capture: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.setState(StateError, err.Error())
		return err
	}

	s.setState(StateTranscribing, "")
	return nil
}

// SendAudioChunk forwards one captured chunk to the backend. Chunks are
// delivered in call order; callers must not invoke this concurrently for
// the same source if they need ordering.
func (s *Session) SendAudioChunk(audio []byte) error {
	s.stateMu.Lock()
	state, channel := s.state, s.channel
	s.stateMu.Unlock()

	if state != StateTranscribing {
		return fmt.Errorf("no active transcription session")
	}
	if channel == nil {
		return fmt.Errorf("recognition channel is not attached")
	}

	return channel.SendAudio(audio)
}

// Stop ends the session: capture halts, the backend flushes its final
// results, the assembled transcript is persisted and the controller returns
// to idle. A Stop racing another Stop is a no-op. Stop-path failures after
// the state machine enters stopping are logged, never returned, so callers
// are not stuck outside idle.
func (s *Session) Stop(ctx context.Context) error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}
	defer s.stopping.Store(false)

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	switch s.State() {
	case StateTranscribing:
	case StateError:
		// The failure path tears resources down best-effort; finish
		// whatever it had not gotten to and return to idle.
		s.teardown(ctx, false)
		s.clearRunState()
		s.setState(StateIdle, "")
		return nil
	default:
		return nil
	}

	ctx, span := tracer.Start(ctx, "stop transcription session")
	defer span.End()

	s.setState(StateStopping, "")

	s.teardown(ctx, true)

	s.clearRunState()
	s.setState(StateIdle, "")
	return nil
}

// teardown releases per-run resources. With persist set, the flattened
// transcript is saved once the pump has drained. Callers hold lifecycleMu.
func (s *Session) teardown(ctx context.Context, persist bool) {
	if err := s.microphone.Stop(); err != nil {
		logger.Warn("failed to stop microphone capture", "error", err)
	}
	if err := s.systemAudio.Stop(); err != nil {
		logger.Warn("failed to stop system audio capture", "error", err)
	}

	if s.channel != nil {
		if err := s.channel.EndSession(ctx); err != nil {
			logger.Warn("failed to end recognition session cleanly", "error", err)
		}
	}

	s.stopPumpAndWait()

	if !persist {
		return
	}

	segments := s.assembler.Flatten()
	if s.persistence != nil {
		summary := SessionSummary{
			ID:                 s.runID,
			StartedAt:          s.startedAt,
			DurationSeconds:    time.Since(s.startedAt).Seconds(),
			Segments:           segments,
			TranslationEnabled: s.startOptions.targetLanguage != "",
			IncludeMicrophone:  s.startOptions.captureMicrophone,
		}
		if err := s.persistence.Save(ctx, summary); err != nil {
			logger.Warn("failed to persist session transcript", "error", err)
		}
	}
}

// ForceReset drags the controller back to idle from any state, releasing
// whatever per-run resources still exist. Used by shutdown.
func (s *Session) ForceReset(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.teardown(ctx, false)
	s.assembler.Reset()
	s.clearRunState()
	s.stopping.Store(false)
	s.setState(StateIdle, "")
}

// Close resets the session and tears down the recognition channel for good.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.ForceReset(ctx)

		if closeErr := s.microphone.Close(); closeErr != nil {
			logger.Warn("failed to close microphone input", "error", closeErr)
		}
		if closeErr := s.systemAudio.Close(); closeErr != nil {
			logger.Warn("failed to close system audio input", "error", closeErr)
		}

		err = s.readiness.Close(ctx)
	})

	return err
}

// pumpEvents is the single delivery point for recognition events; the
// assembler is only ever touched from this goroutine while it runs. On stop
// it drains whatever the backend already buffered before exiting.
func (s *Session) pumpEvents(eventsCh <-chan transcript.Event, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			s.handleRecognitionEvent(event)
		case <-stop:
			for {
				select {
				case event, ok := <-eventsCh:
					if !ok {
						return
					}
					s.handleRecognitionEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) handleRecognitionEvent(event transcript.Event) {
	switch event.Kind {
	case transcript.EventError:
		s.failSession(event.Message)
		return

	case transcript.EventFinal:
		if event.CurrentSpeakerSegment != nil {
			segment := s.translateSegment(*event.CurrentSpeakerSegment)
			event.CurrentSpeakerSegment = &segment
		}

	default:
		// Segments a backend closes inside a partial update (a forced
		// window boundary ends segments this way) are just as final as
		// ones closed by a final event and get the same pairing before
		// the assembler makes them stable.
		if stable := s.assembler.StableCount(); len(event.SpeakerSegments) > stable {
			segments := append([]transcript.SpeakerSegment(nil), event.SpeakerSegments...)
			for i := stable; i < len(segments); i++ {
				segments[i] = s.translateSegment(segments[i])
			}
			event.SpeakerSegments = segments
		}
	}

	s.emitEvent(events.NewTranscriptUpdated(s.assembler.Apply(event)))
}

// translateSegment pairs one closed segment with its translation. Failures
// degrade to the untranslated segment, never to a dropped one.
func (s *Session) translateSegment(segment transcript.SpeakerSegment) transcript.SpeakerSegment {
	if s.translator == nil || s.startOptions.targetLanguage == "" {
		return segment
	}

	translated, err := translate.PairSegment(s.baseContext, s.translator, segment, s.startOptions.targetLanguage)
	if err != nil {
		logger.Warn("failed to translate finalized segment", "error", err)
	}
	return translated
}

// failSession moves an active session to the error state and releases its
// resources best-effort. Errors are not retried; reconnecting mid-session
// would corrupt the diarized segment history, so the only recovery is a new
// session.
func (s *Session) failSession(message string) {
	s.stateMu.Lock()
	if s.state != StateTranscribing {
		s.stateMu.Unlock()
		return
	}
	s.state = StateError
	s.errMessage = message
	s.stateMu.Unlock()

	logger.Error("recognition backend failed mid-session", "message", message)
	s.emitEvent(events.NewSessionStateChanged(string(StateError), message))

	// Teardown runs off the pump goroutine so the pump can drain and exit.
	// If a Stop or restart got to the lock first it already released the
	// run's resources.
	go func() {
		s.lifecycleMu.Lock()
		defer s.lifecycleMu.Unlock()
		if s.State() != StateError {
			return
		}
		s.teardown(s.baseContext, false)
		s.clearRunState()
	}()
}

func (s *Session) forwardAudio(audio []byte) {
	s.emitEvent(events.NewUserAudioFrame(audio))

	if err := s.SendAudioChunk(audio); err != nil {
		logger.Warn("dropped captured audio chunk", "error", err)
	}
}

func (s *Session) warmupFailed(message string) {
	s.emitEvent(events.NewBackendWarmupFailed(message))
}

func (s *Session) stopPumpAndWait() {
	if s.stopPump == nil {
		return
	}

	close(s.stopPump)
	<-s.pumpDone
	s.stopPump = nil
	s.pumpDone = nil
}

func (s *Session) clearRunState() {
	s.stateMu.Lock()
	s.channel = nil
	s.stateMu.Unlock()
	s.runID = ""
}

func (s *Session) setState(state State, message string) {
	s.stateMu.Lock()
	s.state = state
	s.errMessage = message
	s.stateMu.Unlock()

	s.emitEvent(events.NewSessionStateChanged(string(state), message))
}
