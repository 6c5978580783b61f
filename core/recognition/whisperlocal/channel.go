// Package whisperlocal drives the local faster-whisper helper server as a
// recognition backend.
//
// The helper exposes a request/response HTTP API, not a streaming one, so the
// channel synthesizes the streaming contract: captured audio accumulates in a
// bounded window which a decode loop periodically transcribes, emitting a
// partial event whenever the decoded text changes and a final event when the
// session ends or the window rolls over.
package whisperlocal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/justsay/livecap-core/core/recognition"
	"github.com/justsay/livecap-core/core/transcript"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	healthProbeTimeout = 2 * time.Second
	decodeInterval     = time.Second
	transcribeTimeout  = 30 * time.Second

	// maxWindowSeconds bounds the audio window. When the cap is reached the
	// in-progress segment is finalized and the window resets, so the
	// producer never blocks and the window never grows without bound.
	maxWindowSeconds = 30

	eventBufferSize = 16
)

type Channel struct {
	// server is the owned child process; nil when attaching to an
	// externally managed helper over plain HTTP.
	server     *Server
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	connected   bool
	closed      bool
	loopStarted bool
	options     recognition.ConnectOptions
	window      []byte
	lastText    string
	// finalized holds segments already closed by window rollover; partial
	// events report them as the completed-segment prefix.
	finalized []transcript.SpeakerSegment

	events   chan transcript.Event
	closeCh  chan struct{}
	loopDone chan struct{}

	closeOnce sync.Once
}

var _ recognition.Channel = (*Channel)(nil)

// NewChannel creates a channel that owns the helper server's lifecycle.
func NewChannel(server *Server) *Channel {
	return newChannel(server, server.BaseURL())
}

// NewRemoteChannel attaches to an already-running helper at baseURL without
// managing its process.
func NewRemoteChannel(baseURL string) *Channel {
	return newChannel(nil, strings.TrimRight(baseURL, "/"))
}

func newChannel(server *Server, baseURL string) *Channel {
	return &Channel{
		server:     server,
		baseURL:    baseURL,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		events:     make(chan transcript.Event, eventBufferSize),
		closeCh:    make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
}

// Connect launches the helper if owned, waits for its health endpoint to
// answer, and preloads the configured model as the session-begin step.
// Safe for concurrent use; a no-op once connected.
func (c *Channel) Connect(ctx context.Context, opts ...recognition.ConnectOption) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("recognition channel is closed")
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	options := recognition.ResolveConnectOptions(opts...)
	c.mu.Unlock()

	ctx, span := tracer.Start(ctx, "connect local recognition backend")
	defer span.End()

	if c.server != nil {
		if !RuntimeAvailable(ctx, c.server.config.PythonPath) {
			return fmt.Errorf("recognition runtime %q is not available", c.server.config.PythonPath)
		}
		if err := c.server.Start(ctx); err != nil {
			return err
		}
	}

	if err := c.waitReady(ctx); err != nil {
		return err
	}

	if err := c.loadModel(ctx, options); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("recognition channel is closed")
	}
	if !c.connected {
		c.connected = true
		c.options = options
		if !c.loopStarted {
			c.loopStarted = true
			go c.decodeLoop()
		}
	}

	return nil
}

// Healthy probes the helper's health endpoint with a bounded round trip.
// Before the owned server has been launched there is no endpoint to probe,
// so the check degrades to verifying the runtime is present and invocable.
func (c *Channel) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.server != nil {
			return RuntimeAvailable(ctx, c.server.config.PythonPath)
		}
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}

	return health.Status == "ok"
}

// SendAudio appends one chunk to the decode window. The producer never
// blocks; the decode loop enforces the window cap by finalizing and
// resetting.
func (c *Channel) SendAudio(audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return fmt.Errorf("recognition channel is not connected")
	}

	c.window = append(c.window, audio...)
	return nil
}

func (c *Channel) Events() <-chan transcript.Event {
	return c.events
}

// EndSession decodes whatever audio remains, emits the trailing final event,
// and resets per-session state. The helper process and connection stay up
// for the next session.
func (c *Channel) EndSession(ctx context.Context) error {
	err := c.decodeWindow(ctx, true)

	c.mu.Lock()
	c.window = nil
	c.lastText = ""
	c.finalized = nil
	c.mu.Unlock()

	return err
}

// Close shuts the decode loop down, closes the event stream, and stops the
// owned helper process.
func (c *Channel) Close(_ context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.closed = true
		loopStarted := c.loopStarted
		c.mu.Unlock()

		close(c.closeCh)
		if loopStarted {
			<-c.loopDone
		}
		close(c.events)

		if c.server != nil {
			err = c.server.Stop()
		}
	})

	return err
}

func (c *Channel) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if c.healthEndpointUp(ctx) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("recognition backend did not become ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// healthEndpointUp is Healthy without the runtime-probe fallback: readiness
// waits for the HTTP endpoint specifically.
func (c *Channel) healthEndpointUp(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (c *Channel) loadModel(ctx context.Context, options recognition.ConnectOptions) error {
	if options.Model == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"model": options.Model})
	if err != nil {
		return fmt.Errorf("failed to encode model-load request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/model/load", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create model-load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to preload model %q: %w", options.Model, err)
	}
	defer resp.Body.Close()

	var loaded struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loaded); err != nil {
		return fmt.Errorf("failed to decode model-load response: %w", err)
	}
	if !loaded.Success {
		return fmt.Errorf("failed to preload model %q: %s", options.Model, loaded.Error)
	}

	return nil
}

func (c *Channel) decodeLoop() {
	defer close(c.loopDone)

	ticker := time.NewTicker(decodeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			if err := c.decodeWindow(context.Background(), false); err != nil {
				logger.Warn("stopping local decode loop", "error", err)
				c.emit(transcript.NewErrorEvent(err.Error()))
				return
			}
		}
	}
}

func (c *Channel) decodeWindow(ctx context.Context, final bool) error {
	c.mu.Lock()
	window := c.window
	lastText := c.lastText
	options := c.options
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return nil
	}

	if len(window) == 0 {
		if final && lastText != "" {
			c.emit(transcript.NewFinalEvent(&transcript.SpeakerSegment{Text: lastText}))
		}
		return nil
	}

	text, err := c.transcribe(ctx, window, options)
	if err != nil {
		return err
	}

	if final {
		if text != "" {
			c.emit(transcript.NewFinalEvent(&transcript.SpeakerSegment{Text: text}))
		}
		return nil
	}

	c.mu.Lock()
	finalized := append([]transcript.SpeakerSegment(nil), c.finalized...)

	rollover := len(c.window) >= maxWindowSeconds*options.EncodingInfo.BytesPerSecond()
	if rollover && text != "" {
		c.finalized = append(c.finalized, transcript.SpeakerSegment{Text: text})
		finalized = c.finalized
		c.window = nil
		c.lastText = ""
	} else {
		c.lastText = text
	}

	changed := text != lastText
	c.mu.Unlock()

	switch {
	case rollover && text != "":
		c.emit(transcript.NewPartialEvent(finalized, nil))
	case changed && text != "":
		c.emit(transcript.NewPartialEvent(finalized, &transcript.SpeakerSegment{Text: text}))
	case changed:
		// Decoder revised the window down to nothing; clear the current
		// segment downstream as well.
		c.emit(transcript.NewPartialEvent(finalized, nil))
	}

	return nil
}

func (c *Channel) transcribe(ctx context.Context, window []byte, options recognition.ConnectOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	query := url.Values{}
	if options.Model != "" {
		query.Set("model", options.Model)
	}
	if options.Language != "" {
		query.Set("language", options.Language)
	}

	endpoint := c.baseURL + "/transcribe"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	wav := encodeWAV(window, options.EncodingInfo.SampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("failed to create transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read transcribe response: %w", err)
	}

	var result struct {
		Success bool   `json:"success"`
		Text    string `json:"text"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode transcribe response: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("recognition backend rejected audio: %s", result.Error)
	}

	return strings.TrimSpace(result.Text), nil
}

func (c *Channel) emit(event transcript.Event) {
	select {
	case c.events <- event:
	case <-c.closeCh:
	}
}
