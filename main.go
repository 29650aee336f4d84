package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/room4-2/LinguaLive/config"
	"github.com/room4-2/LinguaLive/gemini"
	"github.com/room4-2/LinguaLive/logging"
	"github.com/room4-2/LinguaLive/metrics"
	"github.com/room4-2/LinguaLive/server"
	"github.com/room4-2/LinguaLive/session"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cfg.Mode {
	case config.ModePractice:
		err = runPractice(ctx, cfg, logger)
	default:
		err = runRelay(ctx, cfg, logger)
	}
	if err != nil {
		logger.Fatal("Exiting", zap.String("mode", cfg.Mode), zap.Error(err))
	}
	logger.Info("Stopped", zap.String("mode", cfg.Mode))
}

// runRelay serves practice clients until ctx is cancelled.
func runRelay(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New()

	redisClient := session.ConnectRedis(ctx, cfg.RedisURL, cfg.RedisPassword, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return err
	}
	upstream := gemini.NewDialer(client, cfg.LiveModel, logger)
	upstream.OnProtocolError = func(error) {
		m.RecordProtocolError()
	}

	sessionManager := session.NewManager(session.ManagerConfig{
		MaxSessions:    cfg.MaxSessions,
		SessionTimeout: cfg.SessionTimeout,
		KeepAlive:      cfg.KeepAlivePeriod,
	}, redisClient, m, logger)
	go sessionManager.StartCleanupRoutine(ctx)

	srv := server.New(cfg, sessionManager, upstream, m, logger)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		logger.Info("Received shutdown signal")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
		}
	}()

	if err := srv.Start(); err != nil {
		return err
	}
	<-stopped
	return nil
}
