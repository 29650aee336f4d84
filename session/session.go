package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/room4-2/LinguaLive/gemini"
	"github.com/room4-2/LinguaLive/live"
	"github.com/room4-2/LinguaLive/logging"
	"github.com/room4-2/LinguaLive/messages"
	"github.com/room4-2/LinguaLive/metrics"
	"go.uber.org/zap"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	maxMessageSize  = 512 * 1024
	openTimeout     = 10 * time.Second
	setupTimeout    = 15 * time.Second
)

var errNotOpen = errors.New("first message must be sessionOpen")

// Upstream opens the model side of a relay session.
type Upstream interface {
	Open(ctx context.Context, opts gemini.LiveOptions, handler func(live.Event)) (live.Channel, error)
}

type outgoing struct {
	msg *messages.Message
	// final closes the connection once written
	final bool
	code  int
}

// ClientSession relays one practice client to one upstream live session.
type ClientSession struct {
	ID        string
	CreatedAt time.Time

	conn      *websocket.Conn
	keepAlive time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// Use channels for non-blocking writes
	writeChan chan outgoing

	mu           sync.RWMutex
	upstream     live.Channel
	lastActivity time.Time
	closed       bool
	CloseChan    chan struct{}
}

// NewClientSession wraps an upgraded connection. keepAlive is the ping
// period; zero disables pings and read deadlines.
func NewClientSession(id string, conn *websocket.Conn, keepAlive time.Duration, m *metrics.Metrics, logger *zap.Logger) *ClientSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn.SetReadLimit(maxMessageSize)

	now := time.Now()
	return &ClientSession{
		ID:           id,
		CreatedAt:    now,
		conn:         conn,
		keepAlive:    keepAlive,
		metrics:      m,
		logger:       logger.With(zap.String("session_id", logging.ShortID(id))),
		writeChan:    make(chan outgoing, writeBufferSize),
		lastActivity: now,
		CloseChan:    make(chan struct{}),
	}
}

// Run waits for the client's sessionOpen, opens the upstream session and
// relays until either side goes away. It returns once the session is closed.
func (cs *ClientSession) Run(ctx context.Context, upstream Upstream) {
	go cs.writePump()
	defer cs.Close()

	open, err := cs.awaitOpen()
	if err != nil {
		cs.logger.Warn("Rejecting client", zap.Error(err))
		cs.finish(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, err.Error()), websocket.ClosePolicyViolation)
		return
	}

	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	ch, err := upstream.Open(setupCtx, gemini.LiveOptions{
		SystemPrompt: open.SystemInstruction,
		VoiceName:    open.SpeechVoice,
	}, cs.forward)
	if err != nil {
		cs.logger.Error("Failed to open upstream session", zap.Error(err))
		cs.finish(messages.NewErrorMessage(cs.ID, messages.ErrCodeSessionFailed, "Could not open the live session"), websocket.CloseInternalServerErr)
		return
	}

	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		_ = ch.Close()
		return
	}
	cs.upstream = ch
	cs.mu.Unlock()

	cs.logger.Info("Upstream session opened", zap.String("voice", open.SpeechVoice))
	cs.readLoop(ch)
}

// awaitOpen reads the first message, which must configure the session.
func (cs *ClientSession) awaitOpen() (*messages.SessionOpenPayload, error) {
	cs.conn.SetReadDeadline(time.Now().Add(openTimeout))
	defer cs.conn.SetReadDeadline(time.Time{})

	_, data, err := cs.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("waiting for sessionOpen: %w", err)
	}
	cs.touch()

	env, err := messages.Decode(data)
	if err != nil {
		cs.recordProtocolError()
		return nil, err
	}
	if env.Type != messages.TypeSessionOpen {
		return nil, errNotOpen
	}

	var p messages.SessionOpenPayload
	if err := messages.DecodePayload(env, &p); err != nil {
		return nil, err
	}
	if p.ResponseModality != "" && p.ResponseModality != messages.ResponseModalityAudio {
		return nil, fmt.Errorf("unsupported response modality %q", p.ResponseModality)
	}
	return &p, nil
}

// forward runs on the upstream receive goroutine.
func (cs *ClientSession) forward(ev live.Event) {
	switch ev.Kind {
	case live.EventOpened:
		cs.queueMessage(messages.NewSessionOpenedMessage(cs.ID))
	case live.EventInputTranscript:
		cs.queueMessage(messages.NewInputTranscriptMessage(cs.ID, ev.Text))
	case live.EventOutputTranscript:
		cs.queueMessage(messages.NewOutputTranscriptMessage(cs.ID, ev.Text))
	case live.EventAudio:
		cs.queueMessage(messages.NewAudioMessage(cs.ID, base64.StdEncoding.EncodeToString(ev.Audio)))
		if cs.metrics != nil {
			cs.metrics.RecordAudioFrame(metrics.DirectionDownstream)
		}
	case live.EventInterrupted:
		cs.queueMessage(messages.NewInterruptedMessage(cs.ID))
	case live.EventTurnComplete:
		cs.queueMessage(messages.NewTurnCompleteMessage(cs.ID))
	case live.EventError:
		cs.logger.Error("Upstream error", zap.Error(ev.Err))
		msg := "The live session failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		cs.finish(messages.NewErrorMessage(cs.ID, messages.ErrCodeGeminiError, msg), websocket.CloseInternalServerErr)
	case live.EventClosed:
		cs.logger.Warn("Upstream closed", zap.Int("code", ev.Code), zap.String("reason", ev.Reason))
		cs.finish(messages.NewClosedMessage(cs.ID, ev.Code, ev.Reason), websocket.CloseNormalClosure)
	}
}

func (cs *ClientSession) readLoop(ch live.Channel) {
	if cs.keepAlive > 0 {
		pongWait := cs.keepAlive * 2
		cs.conn.SetReadDeadline(time.Now().Add(pongWait))
		cs.conn.SetPongHandler(func(string) error {
			cs.touch()
			return cs.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		messageType, data, err := cs.conn.ReadMessage()
		if err != nil {
			if !cs.IsClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cs.logger.Warn("Client read error", zap.Error(err))
			}
			return
		}
		cs.touch()
		if cs.keepAlive > 0 {
			cs.conn.SetReadDeadline(time.Now().Add(cs.keepAlive * 2))
		}

		// Binary frames are raw PCM16 at 16 kHz
		if messageType == websocket.BinaryMessage {
			cs.sendAudio(ch, data)
			continue
		}

		env, err := messages.Decode(data)
		if err != nil {
			cs.recordProtocolError()
			cs.logger.Warn("Skipping client message", zap.Error(err))
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, err.Error()))
			continue
		}
		cs.processClientMessage(ch, env)
	}
}

func (cs *ClientSession) processClientMessage(ch live.Channel, env *messages.Envelope) {
	switch env.Type {
	case messages.TypeRealtimeAudioInput:
		var p messages.AudioPayload
		if err := messages.DecodePayload(env, &p); err != nil {
			cs.rejectMessage(err)
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			cs.rejectMessage(fmt.Errorf("invalid base64 audio data: %w", err))
			return
		}
		cs.sendAudio(ch, pcm)

	case messages.TypeClientTextTurn:
		var p messages.TextTurnPayload
		if err := messages.DecodePayload(env, &p); err != nil {
			cs.rejectMessage(err)
			return
		}
		if err := ch.SendText(p.Text); err != nil {
			cs.logger.Warn("Failed to send text upstream", zap.Error(err))
			return
		}
		if cs.metrics != nil {
			cs.metrics.RecordTextTurn()
		}

	case messages.TypeControl:
		var p messages.ControlPayload
		if err := messages.DecodePayload(env, &p); err != nil {
			cs.rejectMessage(err)
			return
		}
		if p.Action != "ping" {
			cs.rejectMessage(fmt.Errorf("unknown control action %q", p.Action))
		}

	case messages.TypeSessionOpen:
		cs.rejectMessage(errors.New("session already open"))

	default:
		cs.rejectMessage(fmt.Errorf("unexpected message type %q", env.Type))
	}
}

func (cs *ClientSession) sendAudio(ch live.Channel, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	if err := ch.SendAudio(pcm); err != nil {
		cs.logger.Warn("Failed to send audio upstream", zap.Error(err))
		return
	}
	if cs.metrics != nil {
		cs.metrics.RecordAudioFrame(metrics.DirectionUpstream)
	}
}

func (cs *ClientSession) rejectMessage(err error) {
	cs.recordProtocolError()
	cs.logger.Warn("Rejecting client message", zap.Error(err))
	cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, err.Error()))
}

func (cs *ClientSession) recordProtocolError() {
	if cs.metrics != nil {
		cs.metrics.RecordProtocolError()
	}
}

// writePump handles all outgoing messages and keepalive pings in a single
// goroutine
func (cs *ClientSession) writePump() {
	var ping <-chan time.Time
	if cs.keepAlive > 0 {
		ticker := time.NewTicker(cs.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-cs.CloseChan:
			return

		case out := <-cs.writeChan:
			if err := cs.write(out.msg); err != nil {
				cs.logger.Debug("Client write failed", zap.Error(err))
				cs.Close()
				return
			}
			if out.final {
				cs.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(out.code, ""),
					time.Now().Add(writeTimeout))
				cs.Close()
				return
			}

		case <-ping:
			cs.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cs.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cs.Close()
				return
			}
		}
	}
}

func (cs *ClientSession) write(msg *messages.Message) error {
	data, err := messages.Marshal(msg)
	if err != nil {
		return err
	}
	if msg.Type == messages.TypeError && cs.metrics != nil {
		if p, ok := msg.Payload.(messages.ErrorPayload); ok {
			cs.metrics.RecordUpstreamError(p.Code)
		}
	}
	cs.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cs.conn.WriteMessage(websocket.TextMessage, data)
}

// queueMessage adds a message to the write queue (non-blocking)
func (cs *ClientSession) queueMessage(msg *messages.Message) {
	cs.enqueue(outgoing{msg: msg})
}

// finish queues a last message; the connection closes once it is written.
// Run waits at most writeTimeout for that.
func (cs *ClientSession) finish(msg *messages.Message, code int) {
	if !cs.enqueue(outgoing{msg: msg, final: true, code: code}) {
		cs.Close()
		return
	}
	select {
	case <-cs.CloseChan:
	case <-time.After(writeTimeout):
		cs.Close()
	}
}

func (cs *ClientSession) enqueue(out outgoing) bool {
	cs.mu.RLock()
	closed := cs.closed
	cs.mu.RUnlock()
	if closed {
		return false
	}
	select {
	case cs.writeChan <- out:
		cs.touch()
		return true
	default:
		cs.logger.Warn("Client write queue full, dropping message", zap.String("type", out.msg.Type))
		return false
	}
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.lastActivity = time.Now()
	cs.mu.Unlock()
}

// LastActivity returns when the client last sent or was sent a message.
func (cs *ClientSession) LastActivity() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lastActivity
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

// Close terminates the session and cleans up resources. It is idempotent.
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	upstream := cs.upstream
	cs.mu.Unlock()

	// Signal close (for other goroutines waiting on this)
	close(cs.CloseChan)

	if upstream != nil {
		if err := upstream.Close(); err != nil {
			cs.logger.Debug("Upstream close failed", zap.Error(err))
		}
	}
	return cs.conn.Close()
}
