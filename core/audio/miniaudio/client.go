// Package miniaudio provides malgo-backed audio sources for the session
// engine: the default microphone and, where the host API supports it, a
// loopback device capturing system audio output.
package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/justsay/livecap-core/core/audio"
)

type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	captureClient
}

// NewClient opens the default microphone as a capture source.
func NewClient() (*Client, error) {
	return newClient(malgo.Capture)
}

// NewLoopbackClient opens a loopback device capturing system audio output.
// Only host APIs with loopback support (e.g. WASAPI) can satisfy this.
func NewLoopbackClient() (*Client, error) {
	return newClient(malgo.Loopback)
}

func newClient(deviceType malgo.DeviceType) (*Client, error) {
	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) {},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{audioContext: audioCtx}
	client.captureClient.deviceType = deviceType

	if err := client.captureClient.Init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

func (c *Client) Stream(_ context.Context, onAudio func(audio []byte)) error {
	return c.captureClient.Start(onAudio)
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return c.captureClient.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

func (c *Client) Close() {
	c.captureClient.Uninit()

	if c.audioContext != nil {
		c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}
