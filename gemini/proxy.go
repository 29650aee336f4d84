// Package gemini connects live sessions and review requests to the Gemini
// API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/room4-2/LinguaLive/audio"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultLiveModel is used when no model is configured.
const DefaultLiveModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"

// maxProtocolErrors is how many unparseable messages in a row are skipped
// before the session is considered broken.
const maxProtocolErrors = 5

// LiveOptions configures one Live session.
type LiveOptions struct {
	SystemPrompt string
	VoiceName    string // Available voices: Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr
}

// Proxy manages the connection to Gemini Live API using the official SDK
type Proxy struct {
	client  *genai.Client
	session *genai.Session
	model   string
	logger  *zap.Logger

	// Callbacks for handling responses. They are invoked from the receive
	// goroutine, one at a time, in the order documented on handleResponse.
	OnOpen             func()
	OnInputTranscript  func(text string)
	OnOutputTranscript func(text string)
	OnAudio            func(pcm []byte) // PCM16 mono at 24 kHz
	OnInterrupted      func()
	OnComplete         func()
	OnError            func(err error)
	OnClose            func(code int, reason string)
	OnProtocolError    func(err error) // skipped message, session continues

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

// NewProxyWithClient creates a proxy sharing an existing client.
func NewProxyWithClient(client *genai.Client, model string, logger *zap.Logger) *Proxy {
	if model == "" {
		model = DefaultLiveModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		client: client,
		model:  model,
		logger: logger.With(zap.String("component", "gemini")),
		done:   make(chan struct{}),
	}
}

// LiveConnectConfig builds the session request: audio responses, optional
// prebuilt voice, system instruction and transcription of both sides.
func LiveConnectConfig(opts LiveOptions) *genai.LiveConnectConfig {
	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: opts.SystemPrompt},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if opts.VoiceName != "" {
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: opts.VoiceName,
				},
			},
		}
	}
	return config
}

// Setup establishes the Live session
func (gp *Proxy) Setup(ctx context.Context, opts LiveOptions) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return fmt.Errorf("proxy is closed")
	}

	session, err := gp.client.Live.Connect(ctx, gp.model, LiveConnectConfig(opts))
	if err != nil {
		return fmt.Errorf("failed to connect to Live API: %w", err)
	}

	gp.session = session
	gp.logger.Info("Connected to Gemini Live", zap.String("model", gp.model))
	return nil
}

// StartReceiving begins listening for Gemini responses. Cancelling ctx
// closes the proxy.
func (gp *Proxy) StartReceiving(ctx context.Context) {
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				gp.Close()
			case <-gp.done:
			}
		}()
	}

	go func() {
		skipped := 0
		for {
			gp.mu.RLock()
			if gp.closed || gp.session == nil {
				gp.mu.RUnlock()
				return
			}
			session := gp.session
			gp.mu.RUnlock()

			// Receive blocks until a message arrives or error occurs
			resp, err := session.Receive()
			if err != nil {
				if gp.isClosed() {
					return
				}
				if !isFatal(err) && skipped < maxProtocolErrors {
					skipped++
					gp.logger.Warn("Skipping malformed Gemini message", zap.Error(err))
					if gp.OnProtocolError != nil {
						gp.OnProtocolError(err)
					}
					continue
				}
				gp.handleReceiveError(err)
				return
			}

			skipped = 0
			gp.handleResponse(resp)
		}
	}()
}

// isFatal reports whether err came from the connection itself or is an
// error sent by the server, rather than a failure to decode one message.
func isFatal(err error) bool {
	var ce *websocket.CloseError
	var ne net.Error
	return strings.HasPrefix(err.Error(), "received error in response") ||
		errors.As(err, &ce) ||
		errors.As(err, &ne) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}

func (gp *Proxy) handleReceiveError(err error) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		gp.logger.Warn("Gemini closed the session", zap.Int("code", ce.Code), zap.String("reason", ce.Text))
		if gp.OnClose != nil {
			gp.OnClose(ce.Code, ce.Text)
			return
		}
	} else {
		gp.logger.Error("Gemini receive error", zap.Error(err))
	}
	if gp.OnError != nil {
		gp.OnError(err)
	}
}

// handleResponse dispatches one server message. Within a message, content
// comes first (input transcript, output transcript, audio), then interrupted,
// then turn complete, so a flush never discards the turn it ends.
func (gp *Proxy) handleResponse(resp *genai.LiveServerMessage) {
	if resp.SetupComplete != nil {
		gp.logger.Debug("Setup complete")
		if gp.OnOpen != nil {
			gp.OnOpen()
		}
	}

	if resp.GoAway != nil {
		gp.logger.Warn("Gemini is about to close the session", zap.Duration("time_left", resp.GoAway.TimeLeft))
	}

	content := resp.ServerContent
	if content == nil {
		return
	}

	if t := content.InputTranscription; t != nil && t.Text != "" && gp.OnInputTranscript != nil {
		gp.OnInputTranscript(t.Text)
	}
	if t := content.OutputTranscription; t != nil && t.Text != "" && gp.OnOutputTranscript != nil {
		gp.OnOutputTranscript(t.Text)
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			// SDK provides raw bytes in InlineData.Data
			gp.logger.Debug("Received audio", zap.Int("bytes", len(part.InlineData.Data)))
			if gp.OnAudio != nil {
				gp.OnAudio(part.InlineData.Data)
			}
		}
	}

	if content.Interrupted {
		gp.logger.Debug("Received interruption")
		if gp.OnInterrupted != nil {
			gp.OnInterrupted()
		}
	}

	if content.TurnComplete {
		gp.logger.Debug("Received turn complete")
		if gp.OnComplete != nil {
			gp.OnComplete()
		}
	}
}

// SendAudio forwards a PCM16 16 kHz chunk to Gemini
func (gp *Proxy) SendAudio(pcm []byte) error {
	session, err := gp.activeSession()
	if err != nil {
		return err
	}

	err = session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{
			MIMEType: audio.InputMIMEType,
			Data:     pcm,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// SendText sends a completed user turn
func (gp *Proxy) SendText(text string) error {
	session, err := gp.activeSession()
	if err != nil {
		return err
	}

	turnComplete := true
	err = session.SendClientContent(genai.LiveSendClientContentParameters{
		Turns: []*genai.Content{
			genai.NewContentFromText(text, genai.RoleUser),
		},
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}

	gp.logger.Debug("Sent text turn", zap.Int("chars", len(text)))
	return nil
}

func (gp *Proxy) activeSession() (*genai.Session, error) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	if gp.closed || gp.session == nil {
		return nil, fmt.Errorf("proxy is closed or not connected")
	}
	return gp.session, nil
}

func (gp *Proxy) isClosed() bool {
	gp.mu.RLock()
	defer gp.mu.RUnlock()
	return gp.closed
}

// Close terminates the Gemini connection
func (gp *Proxy) Close() error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return nil
	}
	gp.closed = true
	close(gp.done)

	if gp.session != nil {
		return gp.session.Close()
	}
	return nil
}
