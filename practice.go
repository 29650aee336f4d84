package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/room4-2/LinguaLive/capture"
	"github.com/room4-2/LinguaLive/config"
	"github.com/room4-2/LinguaLive/conversation"
	"github.com/room4-2/LinguaLive/live"
	"github.com/room4-2/LinguaLive/metrics"
	"github.com/room4-2/LinguaLive/playback"
	"github.com/room4-2/LinguaLive/scenario"
	"go.uber.org/zap"
)

const practiceHelp = `Commands:
  /start            start a conversation
  /stop             end it and get a review
  /interrupt        cut the AI off
  /scenario [id]    list scenarios or pick one
  /quit             exit
Anything else is sent as a typed message.`

// runPractice runs an interactive conversation on the local microphone and
// speaker, driven from stdin.
func runPractice(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New()
	backends, err := conversation.NewBackends(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	// review counters stay scrapable while practicing
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics endpoint unavailable", zap.Error(err))
		}
	}()
	defer metricsServer.Close()

	catalog := scenario.NewCatalog()
	current, ok := catalog.Get(cfg.Scenario)
	if !ok {
		logger.Warn("Unknown scenario, using default", zap.String("scenario", cfg.Scenario))
		current, _ = catalog.Get(scenario.DefaultID)
	}

	o := conversation.New(conversation.Deps{
		Dialer:         backends.Dialer,
		Capture:        capture.NewEngine(capture.NewMalgoDevice(logger), logger),
		Playback:       playback.NewScheduler(playback.OtoFactory(logger), logger),
		Reviewer:       backends.Reviewer,
		SessionOptions: live.Options{QueueSize: cfg.OutboundQueue},
		Logger:         logger,
	})
	defer o.Close()

	conversation.NewConsole(os.Stdout).Attach(o)

	fmt.Printf("Practicing %s: %s\n%s\n", cfg.TargetLanguage, current.Title, practiceHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			o.Stop()
			return nil
		case l, ok := <-lines:
			if !ok {
				o.Stop()
				<-o.ReviewDone()
				return nil
			}
			line = l
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "/start":
			err := o.Start(ctx, live.SessionConfig{
				ScenarioPrompt: current.Prompt,
				TargetLanguage: cfg.TargetLanguage,
				VoiceName:      cfg.VoiceName,
			})
			if err != nil {
				logger.Warn("Could not start conversation", zap.Error(err))
			}
		case "/stop":
			o.Stop()
		case "/interrupt":
			o.Interrupt()
		case "/scenario":
			if arg == "" {
				for _, id := range catalog.IDs() {
					s, _ := catalog.Get(id)
					fmt.Printf("  %-10s %s\n", id, s.Title)
				}
				continue
			}
			s, ok := catalog.Get(strings.TrimSpace(arg))
			if !ok {
				fmt.Printf("Unknown scenario %q\n", arg)
				continue
			}
			current = s
			fmt.Printf("Scenario: %s (applies to the next /start)\n", s.Title)
		case "/quit":
			o.Stop()
			<-o.ReviewDone()
			return nil
		case "/help":
			fmt.Println(practiceHelp)
		default:
			if err := o.SendText(line); err != nil {
				fmt.Printf("Not sent: %v\n", err)
			}
		}
	}
}
