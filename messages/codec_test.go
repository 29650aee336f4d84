package messages

import (
	"errors"
	"strings"
	"testing"
)

func TestMarshal_SessionOpen(t *testing.T) {
	data, err := Marshal(NewSessionOpenMessage("Be a barista.", "Puck"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	env, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != TypeSessionOpen {
		t.Fatalf("expected %s, got %s", TypeSessionOpen, env.Type)
	}

	var p SessionOpenPayload
	if err := DecodePayload(env, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.ResponseModality != "AUDIO" || !p.InputTranscription || !p.OutputTranscription {
		t.Errorf("unexpected payload %+v", p)
	}
	if p.SpeechVoice != "Puck" || p.SystemInstruction != "Be a barista." {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestMarshal_WireShapes(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want []string
	}{
		{"audio input", NewRealtimeAudioMessage("AAA="), []string{`"type":"realtimeAudioInput"`, `"mimeType":"audio/pcm;rate=16000"`}},
		{"text turn", NewTextTurnMessage("hola"), []string{`"text":"hola"`, `"turnComplete":true`}},
		{"model audio", NewAudioMessage("s1", "AAA="), []string{`"sessionId":"s1"`, `"mimeType":"audio/pcm;rate=24000"`}},
		{"closed", NewClosedMessage("s1", CloseUpstreamLost, "gone"), []string{`"code":1011`, `"reason":"gone"`}},
		{"turn complete", NewTurnCompleteMessage("s1"), []string{`"type":"turnComplete"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(string(data), w) {
					t.Errorf("expected %s in %s", w, data)
				}
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"not json", `{nope`, ErrMalformed},
		{"missing type", `{"payload":{}}`, ErrMalformed},
		{"unknown type", `{"type":"dance"}`, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodePayload_Missing(t *testing.T) {
	env, err := Decode([]byte(`{"type":"clientTextTurn"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var p TextTurnPayload
	if err := DecodePayload(env, &p); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}
