package conversation

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/room4-2/LinguaLive/config"
	"github.com/room4-2/LinguaLive/gemini"
	"github.com/room4-2/LinguaLive/live"
	"github.com/room4-2/LinguaLive/metrics"
	"github.com/room4-2/LinguaLive/review"
	"github.com/room4-2/LinguaLive/session"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Backends are the network collaborators of a practice client.
type Backends struct {
	Dialer live.Dialer
	// Reviewer is nil when no API key is configured.
	Reviewer Reviewer

	redis *redis.Client
}

// NewBackends builds the live dialer for cfg.LiveTransport and, given an API
// key, the review analyzer. Reviews are cached in redis when it answers and
// in memory otherwise. m may be nil.
func NewBackends(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*Backends, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backends{}

	var client *genai.Client
	if cfg.GeminiAPIKey != "" {
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		client = c
	}

	switch cfg.LiveTransport {
	case config.TransportRelay:
		b.Dialer = &live.RelayDialer{URL: cfg.RelayURL, Logger: logger}
		logger.Info("Live sessions go through the relay", zap.String("url", cfg.RelayURL))
	default:
		b.Dialer = gemini.NewDialer(client, cfg.LiveModel, logger)
		logger.Info("Live sessions go to Gemini", zap.String("model", cfg.LiveModel))
	}

	if client == nil {
		logger.Warn("No GEMINI_API_KEY, conversation review disabled")
		return b, nil
	}

	var cache review.Cache
	b.redis = session.ConnectRedis(ctx, cfg.RedisURL, cfg.RedisPassword, logger)
	if b.redis != nil {
		cache = review.NewRedisCache(b.redis, cfg.ReviewCacheTTL, logger)
	} else {
		cache = review.NewMemoryCache(cfg.ReviewCacheTTL)
	}
	analyzer := review.NewAnalyzer(review.NewGeminiGenerator(client, cfg.ReviewModel, logger), cache, logger)
	if m != nil {
		analyzer.OnResult = m.RecordReview
	}
	b.Reviewer = analyzer
	return b, nil
}

// Close releases the redis connection, if any.
func (b *Backends) Close() error {
	if b.redis != nil {
		return b.redis.Close()
	}
	return nil
}
