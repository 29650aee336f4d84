package live

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/room4-2/LinguaLive/messages"
	"go.uber.org/zap"
)

const relayWriteWait = 10 * time.Second

// RelayDialer connects through the relay server instead of holding an API
// key locally.
type RelayDialer struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
	Logger *zap.Logger

	// OnProtocolError is called for every inbound message that was skipped.
	OnProtocolError func(err error)
}

// Dial connects, sends the session configuration and starts reading.
func (d *RelayDialer) Dial(ctx context.Context, cfg SessionConfig, handler func(Event)) (Channel, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay %s: %w", d.URL, err)
	}

	rc := &relayChannel{
		conn:            conn,
		handler:         handler,
		logger:          logger.With(zap.String("component", "relay_client")),
		onProtocolError: d.OnProtocolError,
	}

	open := messages.NewSessionOpenMessage(BuildSystemPrompt(cfg), cfg.VoiceName)
	if err := rc.write(open); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send session config: %w", err)
	}

	go rc.readLoop()
	return rc, nil
}

type relayChannel struct {
	conn            *websocket.Conn
	handler         func(Event)
	logger          *zap.Logger
	onProtocolError func(err error)

	writeMu sync.Mutex
	mu      sync.RWMutex
	closed  bool
}

func (rc *relayChannel) SendAudio(pcm []byte) error {
	return rc.write(messages.NewRealtimeAudioMessage(base64.StdEncoding.EncodeToString(pcm)))
}

func (rc *relayChannel) SendText(text string) error {
	return rc.write(messages.NewTextTurnMessage(text))
}

func (rc *relayChannel) write(msg *messages.Message) error {
	rc.mu.RLock()
	closed := rc.closed
	rc.mu.RUnlock()
	if closed {
		return errors.New("relay channel closed")
	}

	data, err := messages.Marshal(msg)
	if err != nil {
		return err
	}

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	rc.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
	return rc.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and drops the connection without waiting for the
// reader.
func (rc *relayChannel) Close() error {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return nil
	}
	rc.closed = true
	rc.mu.Unlock()

	_ = rc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return rc.conn.Close()
}

func (rc *relayChannel) isClosed() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.closed
}

func (rc *relayChannel) readLoop() {
	for {
		_, data, err := rc.conn.ReadMessage()
		if err != nil {
			if rc.isClosed() {
				return
			}
			code, reason := messages.CloseUpstreamLost, err.Error()
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			}
			rc.handler(Event{Kind: EventClosed, Code: code, Reason: reason})
			return
		}

		ev, err := decodeRelayEvent(data)
		if err != nil {
			rc.logger.Warn("Skipping relay message", zap.Error(err))
			if rc.onProtocolError != nil {
				rc.onProtocolError(err)
			}
			continue
		}
		if ev == nil {
			continue
		}
		rc.handler(*ev)
	}
}

// decodeRelayEvent maps a relay envelope to an Event. Client-bound types
// that carry nothing for the session return nil.
func decodeRelayEvent(data []byte) (*Event, error) {
	env, err := messages.Decode(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case messages.TypeSessionOpened:
		return &Event{Kind: EventOpened}, nil

	case messages.TypeInputTranscriptionDelta, messages.TypeOutputTranscriptionDelta:
		var p messages.TextPayload
		if err := messages.DecodePayload(env, &p); err != nil {
			return nil, err
		}
		kind := EventInputTranscript
		if env.Type == messages.TypeOutputTranscriptionDelta {
			kind = EventOutputTranscript
		}
		return &Event{Kind: kind, Text: p.Text}, nil

	case messages.TypeModelAudioChunk:
		var p messages.AudioPayload
		if err := messages.DecodePayload(env, &p); err != nil {
			return nil, err
		}
		pcm, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return nil, &messages.DecodeError{Type: env.Type, Err: fmt.Errorf("%w: %v", messages.ErrMalformed, err)}
		}
		return &Event{Kind: EventAudio, Audio: pcm}, nil

	case messages.TypeTurnComplete:
		return &Event{Kind: EventTurnComplete}, nil

	case messages.TypeInterrupted:
		return &Event{Kind: EventInterrupted}, nil

	case messages.TypeError:
		var p messages.ErrorPayload
		if err := messages.DecodePayload(env, &p); err != nil {
			return nil, err
		}
		// the relay rejected one of our messages; the session carries on
		if p.Code == messages.ErrCodeInvalidMessage {
			return nil, &messages.DecodeError{Type: env.Type, Err: fmt.Errorf("relay rejected message: %s", p.Message)}
		}
		return &Event{Kind: EventError, Err: fmt.Errorf("%s: %s", p.Code, p.Message)}, nil

	case messages.TypeClosed:
		var p messages.ClosedPayload
		if err := messages.DecodePayload(env, &p); err != nil {
			return nil, err
		}
		return &Event{Kind: EventClosed, Code: p.Code, Reason: p.Reason}, nil

	default:
		return nil, &messages.DecodeError{Type: env.Type, Err: messages.ErrUnknownType}
	}
}
