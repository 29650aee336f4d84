package messages

import "github.com/room4-2/LinguaLive/audio"

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeGeminiError      = "GEMINI_ERROR"
	ErrCodeSessionFailed    = "SESSION_FAILED"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeBufferFull       = "BUFFER_FULL"
)

// Server message types (relay -> practice client)
const (
	TypeSessionOpened            = "sessionOpened"
	TypeInputTranscriptionDelta  = "inputTranscriptionDelta"
	TypeOutputTranscriptionDelta = "outputTranscriptionDelta"
	TypeModelAudioChunk          = "modelAudioChunk"
	TypeTurnComplete             = "turnComplete"
	TypeInterrupted              = "interrupted"
	TypeError                    = "error"
	TypeClosed                   = "closed"
)

// Close codes carried by closed messages
const (
	CloseNormal       = 1000
	CloseGoingAway    = 1001
	CloseUpstreamLost = 1011
)

// TextPayload contains a transcription delta
type TextPayload struct {
	Text string `json:"text"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClosedPayload describes why the upstream channel closed
type ClosedPayload struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// NewSessionOpenedMessage acknowledges a sessionOpen once upstream is ready.
func NewSessionOpenedMessage(sessionID string) *Message {
	return &Message{Type: TypeSessionOpened, SessionID: sessionID}
}

// NewInputTranscriptMessage creates a user transcription delta message
func NewInputTranscriptMessage(sessionID, text string) *Message {
	return &Message{
		Type:      TypeInputTranscriptionDelta,
		SessionID: sessionID,
		Payload:   TextPayload{Text: text},
	}
}

// NewOutputTranscriptMessage creates a model transcription delta message
func NewOutputTranscriptMessage(sessionID, text string) *Message {
	return &Message{
		Type:      TypeOutputTranscriptionDelta,
		SessionID: sessionID,
		Payload:   TextPayload{Text: text},
	}
}

// NewAudioMessage creates an audio response message
func NewAudioMessage(sessionID, data string) *Message {
	return &Message{
		Type:      TypeModelAudioChunk,
		SessionID: sessionID,
		Payload: AudioPayload{
			Data:     data,
			MimeType: audio.OutputMIMEType,
		},
	}
}

// NewTurnCompleteMessage marks the end of a model turn
func NewTurnCompleteMessage(sessionID string) *Message {
	return &Message{Type: TypeTurnComplete, SessionID: sessionID}
}

// NewInterruptedMessage reports that the model stopped speaking early
func NewInterruptedMessage(sessionID string) *Message {
	return &Message{Type: TypeInterrupted, SessionID: sessionID}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *Message {
	return &Message{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// NewClosedMessage reports the end of the upstream channel
func NewClosedMessage(sessionID string, code int, reason string) *Message {
	return &Message{
		Type:      TypeClosed,
		SessionID: sessionID,
		Payload:   ClosedPayload{Code: code, Reason: reason},
	}
}
