package session

import (
	"context"
	"sync/atomic"

	"github.com/justsay/livecap-core/core/audio"
)

// audioInput normalizes capture behavior over an optional client. A nil
// client is a valid configuration (the external collaborator pushes chunks
// through SendAudioChunk instead).
type audioInput struct {
	// client stores the configured capture source.
	client AudioInput
	// captureControls is set when the source supports explicit capture controls.
	captureControls AudioInputFine

	// connected reports whether a concrete capture source is configured.
	connected atomic.Bool
	// isCapturing reports whether the source is currently capturing audio.
	isCapturing atomic.Bool

	// onAudio receives captured chunks in capture order.
	onAudio func(audio []byte)

	// streamCancel ends the current run's Stream goroutine. Set only for
	// sources without capture controls; nil otherwise.
	streamCancel context.CancelFunc
}

func newAudioInput(client AudioInput, onAudio func(audio []byte)) *audioInput {
	if onAudio == nil {
		onAudio = func(audio []byte) {}
	}

	input := audioInput{onAudio: onAudio}
	input.Set(client)
	return &input
}

func (a *audioInput) Set(client AudioInput) {
	if a == nil {
		return
	}

	a.client = client
	a.captureControls = nil
	a.connected.Store(false)
	a.isCapturing.Store(false)
	if a.streamCancel != nil {
		a.streamCancel()
		a.streamCancel = nil
	}

	if client == nil {
		return
	}

	a.connected.Store(true)
	if fine, ok := client.(AudioInputFine); ok {
		a.captureControls = fine
	}
}

func (a *audioInput) IsConfigured() bool { return a != nil && a.connected.Load() }
func (a *audioInput) IsCapturing() bool  { return a != nil && a.isCapturing.Load() }

// Start begins streaming chunks to the onAudio callback. With capture
// controls present the source is started in place; otherwise the blocking
// Stream call runs on its own goroutine.
func (a *audioInput) Start(ctx context.Context) error {
	if !a.IsConfigured() {
		return nil
	}

	if !a.isCapturing.CompareAndSwap(false, true) {
		return nil
	}

	if a.captureControls != nil {
		if err := a.captureControls.StartCapture(ctx, a.onAudio); err != nil {
			a.isCapturing.Store(false)
			return err
		}
		return nil
	}

	streamCtx, cancel := context.WithCancel(ctx)
	a.streamCancel = cancel

	go func() {
		err := a.client.Stream(streamCtx, func(chunk []byte) {
			// A stream that outlives its run must not deliver chunks
			// into the next one.
			if streamCtx.Err() != nil {
				return
			}
			a.onAudio(chunk)
		})
		if streamCtx.Err() != nil {
			return
		}
		a.isCapturing.Store(false)
		if err != nil {
			logger.Warn("audio capture stream ended", "error", err)
		}
	}()

	return nil
}

// Stop halts capture but keeps the device open for the next session.
func (a *audioInput) Stop() error {
	if !a.IsConfigured() {
		return nil
	}

	capturing := a.isCapturing.CompareAndSwap(true, false)

	// Cancel even when the stream already ended on its own so its context
	// is released.
	if a.streamCancel != nil {
		a.streamCancel()
		a.streamCancel = nil
	}

	if capturing && a.captureControls != nil {
		return a.captureControls.StopCapture()
	}

	return nil
}

func (a *audioInput) Close() error {
	if !a.IsConfigured() {
		return nil
	}

	if a.captureControls != nil && a.isCapturing.Load() {
		if err := a.captureControls.StopCapture(); err != nil {
			a.isCapturing.Store(false)
			a.client.Close()
			return err
		}
	}
	a.isCapturing.Store(false)
	if a.streamCancel != nil {
		a.streamCancel()
		a.streamCancel = nil
	}

	a.client.Close()
	return nil
}

func (a *audioInput) EncodingInfo() audio.EncodingInfo {
	if a == nil || a.client == nil {
		return audio.GetDefaultEncodingInfo()
	}

	return a.client.EncodingInfo()
}
