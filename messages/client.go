package messages

import "github.com/room4-2/LinguaLive/audio"

// Client message types (practice client -> relay)
const (
	TypeSessionOpen        = "sessionOpen"
	TypeRealtimeAudioInput = "realtimeAudioInput"
	TypeClientTextTurn     = "clientTextTurn"
	TypeControl            = "control"
)

// ResponseModalityAudio is the only response modality a session requests.
const ResponseModalityAudio = "AUDIO"

// SessionOpenPayload configures the upstream live session
type SessionOpenPayload struct {
	ResponseModality    string `json:"responseModality"`
	SpeechVoice         string `json:"speechVoice,omitempty"`
	SystemInstruction   string `json:"systemInstruction"`
	InputTranscription  bool   `json:"inputTranscription"`
	OutputTranscription bool   `json:"outputTranscription"`
}

// AudioPayload carries one PCM16 mono frame
type AudioPayload struct {
	Data     string `json:"data"`     // Base64-encoded PCM16
	MimeType string `json:"mimeType"` // "audio/pcm;rate=16000" or "audio/pcm;rate=24000"
}

// TextTurnPayload is a typed user turn
type TextTurnPayload struct {
	Text         string `json:"text"`
	TurnComplete bool   `json:"turnComplete"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "ping"
}

// NewSessionOpenMessage creates the first message of a relay connection.
func NewSessionOpenMessage(systemInstruction, voice string) *Message {
	return &Message{
		Type: TypeSessionOpen,
		Payload: SessionOpenPayload{
			ResponseModality:    ResponseModalityAudio,
			SpeechVoice:         voice,
			SystemInstruction:   systemInstruction,
			InputTranscription:  true,
			OutputTranscription: true,
		},
	}
}

// NewRealtimeAudioMessage wraps base64 PCM16 captured at 16 kHz.
func NewRealtimeAudioMessage(data string) *Message {
	return &Message{
		Type: TypeRealtimeAudioInput,
		Payload: AudioPayload{
			Data:     data,
			MimeType: audio.InputMIMEType,
		},
	}
}

// NewTextTurnMessage wraps text as a completed user turn.
func NewTextTurnMessage(text string) *Message {
	return &Message{
		Type: TypeClientTextTurn,
		Payload: TextTurnPayload{
			Text:         text,
			TurnComplete: true,
		},
	}
}
