package gemini

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/room4-2/LinguaLive/live"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"
)

func TestLiveConnectConfig(t *testing.T) {
	cfg := LiveConnectConfig(LiveOptions{SystemPrompt: "be a barista", VoiceName: "Kore"})

	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("expected audio modality, got %v", cfg.ResponseModalities)
	}
	if cfg.InputAudioTranscription == nil || cfg.OutputAudioTranscription == nil {
		t.Error("expected both transcriptions enabled")
	}
	if cfg.SystemInstruction.Parts[0].Text != "be a barista" {
		t.Error("unexpected system instruction")
	}
	if cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
		t.Error("unexpected voice")
	}

	if LiveConnectConfig(LiveOptions{}).SpeechConfig != nil {
		t.Error("expected default voice when none is set")
	}
}

func TestHandleResponse_Order(t *testing.T) {
	p := NewProxyWithClient(nil, "", zaptest.NewLogger(t))

	var kinds []live.EventKind
	var texts []string
	Bind(p, func(ev live.Event) {
		kinds = append(kinds, ev.Kind)
		if ev.Text != "" {
			texts = append(texts, ev.Text)
		}
	})

	p.handleResponse(&genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}})
	p.handleResponse(&genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			TurnComplete:        true,
			Interrupted:         true,
			InputTranscription:  &genai.Transcription{Text: "Hola"},
			OutputTranscription: &genai.Transcription{Text: "Buenas"},
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte{1, 2}}},
				{Text: "ignored"},
			}},
		},
	})

	want := []live.EventKind{
		live.EventOpened,
		live.EventInputTranscript,
		live.EventOutputTranscript,
		live.EventAudio,
		live.EventInterrupted,
		live.EventTurnComplete,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
	if len(texts) != 2 || texts[0] != "Hola" || texts[1] != "Buenas" {
		t.Errorf("unexpected texts %v", texts)
	}
}

func TestHandleReceiveError(t *testing.T) {
	p := NewProxyWithClient(nil, "", zaptest.NewLogger(t))
	var got []live.Event
	Bind(p, func(ev live.Event) { got = append(got, ev) })

	p.handleReceiveError(&websocket.CloseError{Code: 1011, Text: "internal"})
	p.handleReceiveError(errors.New("boom"))

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Kind != live.EventClosed || got[0].Code != 1011 || got[0].Reason != "internal" {
		t.Errorf("unexpected close event %+v", got[0])
	}
	if got[1].Kind != live.EventError {
		t.Errorf("expected error event, got %s", got[1].Kind)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&websocket.CloseError{Code: 1000}, true},
		{fmt.Errorf("received error in response: %s", "quota"), true},
		{fmt.Errorf("invalid message format. Error %w", errors.New("bad json")), false},
	}
	for _, tt := range tests {
		if got := isFatal(tt.err); got != tt.want {
			t.Errorf("isFatal(%v): expected %v, got %v", tt.err, tt.want, got)
		}
	}
}

func TestSendOnClosedProxy(t *testing.T) {
	p := NewProxyWithClient(nil, "", zaptest.NewLogger(t))
	if err := p.SendAudio([]byte{0, 0}); err == nil {
		t.Error("expected error before setup")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := p.SendText("hola"); err == nil {
		t.Error("expected error after close")
	}
}
