// Command test replays an audio file as the microphone through a full
// practice conversation and prints the transcript and review.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/room4-2/LinguaLive/capture"
	"github.com/room4-2/LinguaLive/config"
	"github.com/room4-2/LinguaLive/conversation"
	"github.com/room4-2/LinguaLive/live"
	"github.com/room4-2/LinguaLive/logging"
	"github.com/room4-2/LinguaLive/playback"
	"github.com/room4-2/LinguaLive/scenario"
	"go.uber.org/zap"
)

func main() {
	audioFile := flag.String("file", "examples/user.pcm", "Audio file to send (PCM16 mono or WAV)")
	rawRate := flag.Int("rate", 16000, "Sample rate of headerless PCM files")
	scenarioID := flag.String("scenario", scenario.DefaultID, "Scenario id")
	wait := flag.Duration("wait", 15*time.Second, "How long to keep listening after the file ends")
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	backends, err := conversation.NewBackends(ctx, cfg, nil, logger)
	if err != nil {
		logger.Fatal("Failed to set up backends", zap.Error(err))
	}
	defer backends.Close()

	sc, ok := scenario.NewCatalog().Get(*scenarioID)
	if !ok {
		logger.Fatal("Unknown scenario", zap.String("scenario", *scenarioID))
	}

	device := capture.NewFileDevice(*audioFile, *rawRate, logger)
	o := conversation.New(conversation.Deps{
		Dialer:         backends.Dialer,
		Capture:        capture.NewEngine(device, logger),
		Playback:       playback.NewScheduler(playback.OtoFactory(logger), logger),
		Reviewer:       backends.Reviewer,
		SessionOptions: live.Options{QueueSize: cfg.OutboundQueue},
		Logger:         logger,
	})
	defer o.Close()
	conversation.NewConsole(os.Stdout).Attach(o)

	logger.Info("Replaying file", zap.String("file", *audioFile), zap.String("scenario", sc.ID))
	if err := o.Start(ctx, live.SessionConfig{
		ScenarioPrompt: sc.Prompt,
		TargetLanguage: cfg.TargetLanguage,
		VoiceName:      cfg.VoiceName,
	}); err != nil {
		logger.Fatal("Failed to start conversation", zap.Error(err), zap.String("reason", o.LastError()))
	}

	select {
	case <-device.Done():
		logger.Info("File sent, waiting for the reply", zap.Duration("wait", *wait))
		select {
		case <-time.After(*wait):
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}

	o.Stop()
	select {
	case <-o.ReviewDone():
	case <-time.After(45 * time.Second):
		logger.Warn("Timed out waiting for the review")
	}
}
