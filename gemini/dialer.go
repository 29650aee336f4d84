package gemini

import (
	"context"
	"fmt"

	"github.com/room4-2/LinguaLive/live"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Dialer opens live sessions directly against Gemini.
type Dialer struct {
	client *genai.Client
	model  string
	logger *zap.Logger

	// OnProtocolError is called for every skipped upstream message.
	OnProtocolError func(err error)
}

// NewDialer creates a dialer sharing one client across sessions.
func NewDialer(client *genai.Client, model string, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{client: client, model: model, logger: logger}
}

// Dial connects and starts receiving. EventOpened follows once Gemini
// acknowledges the setup.
func (d *Dialer) Dial(ctx context.Context, cfg live.SessionConfig, handler func(live.Event)) (live.Channel, error) {
	return d.Open(ctx, LiveOptions{
		SystemPrompt: live.BuildSystemPrompt(cfg),
		VoiceName:    cfg.VoiceName,
	}, handler)
}

// Open is Dial with a ready-made system prompt, as received by the relay.
func (d *Dialer) Open(ctx context.Context, opts LiveOptions, handler func(live.Event)) (live.Channel, error) {
	proxy := NewProxyWithClient(d.client, d.model, d.logger)
	Bind(proxy, handler)
	proxy.OnProtocolError = d.OnProtocolError

	if err := proxy.Setup(ctx, opts); err != nil {
		proxy.Close()
		return nil, fmt.Errorf("gemini dial: %w", err)
	}

	// the session outlives ctx, which only bounds the handshake
	proxy.StartReceiving(context.Background())
	return proxy, nil
}

// Bind routes every proxy callback to handler as a live.Event.
func Bind(proxy *Proxy, handler func(live.Event)) {
	proxy.OnOpen = func() {
		handler(live.Event{Kind: live.EventOpened})
	}
	proxy.OnInputTranscript = func(text string) {
		handler(live.Event{Kind: live.EventInputTranscript, Text: text})
	}
	proxy.OnOutputTranscript = func(text string) {
		handler(live.Event{Kind: live.EventOutputTranscript, Text: text})
	}
	proxy.OnAudio = func(pcm []byte) {
		handler(live.Event{Kind: live.EventAudio, Audio: pcm})
	}
	proxy.OnInterrupted = func() {
		handler(live.Event{Kind: live.EventInterrupted})
	}
	proxy.OnComplete = func() {
		handler(live.Event{Kind: live.EventTurnComplete})
	}
	proxy.OnError = func(err error) {
		handler(live.Event{Kind: live.EventError, Err: err})
	}
	proxy.OnClose = func(code int, reason string) {
		handler(live.Event{Kind: live.EventClosed, Code: code, Reason: reason})
	}
}
