// Command test-text opens one live session, sends a typed turn and logs every
// event until the turn completes.
package main

import (
	"context"
	"flag"
	"log"
	"sync"
	"time"

	"github.com/room4-2/LinguaLive/config"
	"github.com/room4-2/LinguaLive/conversation"
	"github.com/room4-2/LinguaLive/live"
	"github.com/room4-2/LinguaLive/logging"
	"go.uber.org/zap"
)

func main() {
	text := flag.String("text", "Hello! Say hi back in one sentence.", "Text turn to send")
	timeout := flag.Duration("timeout", 20*time.Second, "How long to wait for the reply")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	backends, err := conversation.NewBackends(ctx, cfg, nil, logger)
	if err != nil {
		logger.Fatal("Failed to set up backends", zap.Error(err))
	}
	defer backends.Close()

	opened := make(chan struct{})
	done := make(chan struct{})
	var (
		audioBytes int
		finish     sync.Once
	)

	// events arrive one at a time on the channel's goroutine
	ch, err := backends.Dialer.Dial(ctx, live.SessionConfig{
		TargetLanguage: cfg.TargetLanguage,
		VoiceName:      cfg.VoiceName,
	}, func(ev live.Event) {
		switch ev.Kind {
		case live.EventOpened:
			logger.Info("Session opened")
			close(opened)
		case live.EventOutputTranscript, live.EventInputTranscript:
			logger.Info("Transcript", zap.Stringer("kind", ev.Kind), zap.String("text", ev.Text))
		case live.EventAudio:
			audioBytes += len(ev.Audio)
		case live.EventTurnComplete:
			logger.Info("Turn complete", zap.Int("audio_bytes", audioBytes))
			finish.Do(func() { close(done) })
		case live.EventError, live.EventClosed:
			logger.Error("Session ended", zap.Stringer("kind", ev.Kind), zap.Error(ev.Err),
				zap.Int("code", ev.Code), zap.String("reason", ev.Reason))
			cancel()
		}
	})
	if err != nil {
		logger.Fatal("Failed to dial", zap.Error(err))
	}
	defer ch.Close()

	select {
	case <-opened:
	case <-ctx.Done():
		logger.Fatal("Session did not open", zap.Error(ctx.Err()))
	}

	if err := ch.SendText(*text); err != nil {
		logger.Fatal("Failed to send text", zap.Error(err))
	}
	logger.Info("Waiting for response", zap.String("sent", *text))

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("No complete reply", zap.Error(ctx.Err()))
	}
}
