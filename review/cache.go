package review

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/room4-2/LinguaLive/transcript"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "review:"

// Cache stores feedback by conversation digest. Failures are treated as
// misses.
type Cache interface {
	Get(ctx context.Context, key string) (*transcript.Feedback, bool)
	Set(ctx context.Context, key string, fb *transcript.Feedback)
}

// CacheKey derives the key for a conversation in a language.
func CacheKey(language, conversation string) string {
	sum := sha256.Sum256([]byte(language + "\n" + conversation))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// RedisCache keeps feedback in redis with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache creates a cache on client.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger.With(zap.String("component", "review_cache"))}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*transcript.Feedback, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Failed to read cached review", zap.Error(err))
		}
		return nil, false
	}

	var fb transcript.Feedback
	if err := sonic.Unmarshal(raw, &fb); err != nil {
		c.logger.Warn("Discarding corrupt cached review", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &fb, true
}

func (c *RedisCache) Set(ctx context.Context, key string, fb *transcript.Feedback) {
	raw, err := sonic.Marshal(fb)
	if err != nil {
		c.logger.Warn("Failed to encode review", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to cache review", zap.Error(err))
	}
}

type memoryEntry struct {
	fb      transcript.Feedback
	expires time.Time
}

// MemoryCache is the in-process fallback used when redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates an empty cache. A zero ttl never expires entries.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*transcript.Feedback, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	fb := e.fb
	return &fb, true
}

func (c *MemoryCache) Set(_ context.Context, key string, fb *transcript.Feedback) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := memoryEntry{fb: *fb}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.entries[key] = e
}
