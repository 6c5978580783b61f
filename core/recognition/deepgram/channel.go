// Package deepgram drives Deepgram's live-listen websocket as a remote
// streaming recognition backend with per-speaker diarization.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/justsay/livecap-core/core/recognition"
	"github.com/justsay/livecap-core/core/transcript"
)

const (
	keepAliveInterval = 5 * time.Second
	eventBufferSize   = 16
)

type Channel struct {
	connMu    sync.Mutex
	conn      *websocket.Conn
	lastMsgTs time.Time

	stateMu   sync.Mutex
	connected bool
	closed    bool
	// draining is set between EndSession and the next session's first
	// audio write; transcript results arriving in that gap belong to the
	// session that already closed its utterance and are dropped.
	draining bool

	// utterance accumulation state, touched only by the reader goroutine
	// and EndSession (which runs while the reader is quiescent).
	utteranceMu sync.Mutex
	finalized   []transcript.SpeakerSegment
	accumulated string
	speaker     int

	events    chan transcript.Event
	closeCh   chan struct{}
	closeOnce sync.Once
}

var _ recognition.Channel = (*Channel)(nil)

func NewChannel() *Channel {
	return &Channel{
		events:  make(chan transcript.Event, eventBufferSize),
		closeCh: make(chan struct{}),
	}
}

// Connect opens the live-listen websocket and starts the reader and
// keep-alive loops. Safe for concurrent use; a no-op once connected.
func (c *Channel) Connect(ctx context.Context, opts ...recognition.ConnectOption) error {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return fmt.Errorf("recognition channel is closed")
	}
	if c.connected {
		c.stateMu.Unlock()
		return nil
	}
	c.stateMu.Unlock()

	ctx, span := tracer.Start(ctx, "connect deepgram recognition backend")
	defer span.End()

	options := recognition.ResolveConnectOptions(opts...)

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := connectWebsocket(ctx, options, *encoding)
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		conn.Close()
		return fmt.Errorf("recognition channel is closed")
	}
	if c.connected {
		// Lost the connect race; keep the first connection.
		c.stateMu.Unlock()
		conn.Close()
		return nil
	}
	c.connected = true
	c.stateMu.Unlock()

	c.connMu.Lock()
	c.conn = conn
	c.lastMsgTs = time.Now()
	c.connMu.Unlock()

	go c.readAndProcessMessages(conn)
	go c.keepAlive()

	return nil
}

func connectWebsocket(ctx context.Context, options recognition.ConnectOptions, encoding encodingInfo) (*websocket.Conn, error) {
	apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
	if !ok {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	model := options.Model
	if model == "" {
		model = "nova-3"
	}
	language := options.Language
	if language == "" {
		language = "en-US"
	}

	listenUrl, _ := url.Parse("wss://api.deepgram.com/v1/listen")
	queryParams := listenUrl.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", model)
	queryParams.Set("language", language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	if options.Diarize {
		queryParams.Set("diarize", "true")
	}

	listenUrl.RawQuery = queryParams.Encode()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenUrl.String(),
		http.Header{"Authorization": {"Token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

// Healthy reports whether a session could proceed right now: either the
// socket is already open, or the credentials needed to open one exist. No
// cheaper probe exists for a connect-only streaming endpoint.
func (c *Channel) Healthy(context.Context) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.closed {
		return false
	}
	if c.connected {
		return true
	}

	_, ok := os.LookupEnv("DEEPGRAM_API_KEY")
	return ok
}

// SendAudio writes one chunk to the socket. The write is serialized by a
// mutex and blocks the producer for at most one frame write; that bounded
// blocking is this channel's backpressure policy.
func (c *Channel) SendAudio(audio []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("recognition channel is not connected")
	}

	c.lastMsgTs = time.Now()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram socket: %w", err)
	}

	c.stateMu.Lock()
	c.draining = false
	c.stateMu.Unlock()

	return nil
}

func (c *Channel) Events() <-chan transcript.Event {
	return c.events
}

// EndSession asks the backend to flush buffered audio and closes the open
// utterance locally. The socket stays open for the next session.
func (c *Channel) EndSession(context.Context) error {
	c.connMu.Lock()
	if c.conn != nil {
		if err := c.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: "Finalize"}); err != nil {
			c.connMu.Unlock()
			return fmt.Errorf("failed to flush deepgram buffer: %w", err)
		}
	}
	c.connMu.Unlock()

	c.closeUtterance()

	c.utteranceMu.Lock()
	c.finalized = nil
	c.utteranceMu.Unlock()

	// The backend keeps answering the Finalize after the utterance has
	// been closed locally; those trailing results would double-report it.
	c.stateMu.Lock()
	c.draining = true
	c.stateMu.Unlock()

	return nil
}

func (c *Channel) Close(context.Context) error {
	c.closeOnce.Do(func() {
		c.stateMu.Lock()
		c.closed = true
		c.connected = false
		c.stateMu.Unlock()

		close(c.closeCh)

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.WriteJSON(struct {
				Type string `json:"type"`
			}{Type: string(api.TypeCloseStreamResponse)})
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()

		close(c.events)
	})

	return nil
}

func (c *Channel) isDraining() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.draining
}

func (c *Channel) isClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closed
}

func (c *Channel) readAndProcessMessages(conn *websocket.Conn) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}

			logger.Warn("deepgram socket read failed", "error", err)
			c.stateMu.Lock()
			c.connected = false
			c.stateMu.Unlock()
			c.emit(transcript.NewErrorEvent("recognition stream closed unexpectedly"))
			return
		}
		if msgType != websocket.BinaryMessage {
			c.processMessage(msg)
		}
	}
}

// interim/final transcription payload, reduced to the fields the channel
// consumes. The SDK's response structs omit per-word speaker indices in the
// shape diarization needs, so the payload is decoded locally.
type messageResponse struct {
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Word    string `json:"word"`
				Speaker *int   `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (c *Channel) processMessage(msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		if c.isDraining() {
			return
		}
		var msgResp messageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram transcript message", "error", err)
			return
		}
		c.processTranscript(msgResp)

	case api.TypeUtteranceEndResponse:
		if c.isDraining() {
			return
		}
		c.closeUtterance()

	// TypeErrorResponse lives in the SDK's common interfaces package, a
	// different named string type than the listen package's TypeResponse.
	case api.TypeResponse(api.TypeErrorResponse):
		var errResp struct {
			Description string `json:"description"`
			Message     string `json:"message"`
		}
		if err := json.Unmarshal(msg, &errResp); err != nil {
			logger.Warn("failed to unmarshal deepgram error message", "error", err)
			return
		}
		description := errResp.Description
		if description == "" {
			description = errResp.Message
		}
		c.emit(transcript.NewErrorEvent(description))
	}
}

func (c *Channel) processTranscript(msgResp messageResponse) {
	if len(msgResp.Channel.Alternatives) == 0 {
		return
	}

	alternative := msgResp.Channel.Alternatives[0]
	text := strings.TrimSpace(alternative.Transcript)
	if text == "" {
		if msgResp.SpeechFinal {
			c.closeUtterance()
		}
		return
	}

	speaker := 0
	if len(alternative.Words) > 0 && alternative.Words[0].Speaker != nil {
		speaker = *alternative.Words[0].Speaker
	}

	c.utteranceMu.Lock()

	// A speaker flip mid-stream closes the running utterance so diarized
	// turns become separate segments.
	if c.accumulated != "" && speaker != c.speaker {
		closed := transcript.SpeakerSegment{Speaker: c.speaker, Text: c.accumulated}
		c.finalized = append(c.finalized, closed)
		c.accumulated = ""
		segments := append([]transcript.SpeakerSegment(nil), c.finalized...)
		c.utteranceMu.Unlock()

		c.emit(transcript.NewFinalEvent(&closed))
		c.emit(transcript.NewPartialEvent(segments, nil))
		c.utteranceMu.Lock()
	}

	c.speaker = speaker

	current := c.accumulated
	if msgResp.IsFinal {
		if current != "" {
			current += " "
		}
		current += text
		c.accumulated = current
	} else {
		if current != "" {
			current += " "
		}
		current += text
	}

	segments := append([]transcript.SpeakerSegment(nil), c.finalized...)
	c.utteranceMu.Unlock()

	c.emit(transcript.NewPartialEvent(segments, &transcript.SpeakerSegment{Speaker: speaker, Text: current}))

	if msgResp.SpeechFinal {
		c.closeUtterance()
	}
}

func (c *Channel) closeUtterance() {
	c.utteranceMu.Lock()

	if c.accumulated == "" {
		c.utteranceMu.Unlock()
		return
	}

	closed := transcript.SpeakerSegment{Speaker: c.speaker, Text: c.accumulated}
	c.finalized = append(c.finalized, closed)
	c.accumulated = ""
	c.utteranceMu.Unlock()

	c.emit(transcript.NewFinalEvent(&closed))
}

func (c *Channel) keepAlive() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.connMu.Lock()
			idle := time.Since(c.lastMsgTs) >= keepAliveInterval
			conn := c.conn
			if idle && conn != nil {
				if err := conn.WriteJSON(struct {
					Type string `json:"type"`
				}{Type: "KeepAlive"}); err != nil {
					logger.Warn("failed to write deepgram keep-alive", "error", err)
				}
			}
			c.connMu.Unlock()
		}
	}
}

func (c *Channel) emit(event transcript.Event) {
	select {
	case c.events <- event:
	case <-c.closeCh:
	}
}
