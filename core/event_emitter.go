package session

import (
	"github.com/justsay/livecap-core/core/events"
	"github.com/justsay/livecap-core/core/transcript"
)

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

func newCallbackEventEmitter(opts StartOptions) eventEmitter {
	return func(event events.Event) {
		switch typedEvent := event.(type) {
		case events.SessionStateChanged:
			if opts.onStatus != nil {
				opts.onStatus(State(typedEvent.State), typedEvent.Message)
			}
		case events.TranscriptUpdated:
			if opts.onTranscript != nil {
				opts.onTranscript(transcriptUpdate(typedEvent))
			}
		case events.UserAudioFrame:
			if opts.onInputAudio != nil {
				opts.onInputAudio(typedEvent.Audio)
			}
		case events.BackendWarmupFailed:
			logger.Warn("backend warm-up failed", "message", typedEvent.Message)
		}
	}
}

func transcriptUpdate(event events.TranscriptUpdated) transcript.Update {
	return transcript.Update{
		IsFinal:  event.IsFinal,
		Segments: event.Segments,
		Current:  event.Current,
	}
}
