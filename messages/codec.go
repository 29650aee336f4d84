// Package messages defines the JSON envelopes exchanged between a practice
// client and the relay server.
package messages

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var (
	// ErrUnknownType is wrapped by DecodeError for unrecognized message types.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed is wrapped by DecodeError for unparseable messages.
	ErrMalformed = errors.New("malformed message")
)

// Message is an outbound envelope.
type Message struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Envelope is an inbound envelope with its payload left undecoded.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DecodeError is a protocol error: the message is skipped, the session
// carries on.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode message: %v", e.Err)
	}
	return fmt.Sprintf("decode %q message: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var knownTypes = map[string]bool{
	TypeSessionOpen:              true,
	TypeRealtimeAudioInput:       true,
	TypeClientTextTurn:           true,
	TypeControl:                  true,
	TypeSessionOpened:            true,
	TypeInputTranscriptionDelta:  true,
	TypeOutputTranscriptionDelta: true,
	TypeModelAudioChunk:          true,
	TypeTurnComplete:             true,
	TypeInterrupted:              true,
	TypeError:                    true,
	TypeClosed:                   true,
}

// Marshal encodes an outbound message.
func Marshal(msg *Message) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}
	return data, nil
}

// Decode parses an envelope. Unknown types and malformed JSON return a
// *DecodeError.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if env.Type == "" {
		return nil, &DecodeError{Err: fmt.Errorf("%w: missing type", ErrMalformed)}
	}
	if !knownTypes[env.Type] {
		return nil, &DecodeError{Type: env.Type, Err: ErrUnknownType}
	}
	return &env, nil
}

// DecodePayload unmarshals the payload of env into v.
func DecodePayload(env *Envelope, v any) error {
	if len(env.Payload) == 0 {
		return &DecodeError{Type: env.Type, Err: fmt.Errorf("%w: missing payload", ErrMalformed)}
	}
	if err := sonic.Unmarshal(env.Payload, v); err != nil {
		return &DecodeError{Type: env.Type, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	return nil
}
