// Package session tracks the relay's client sessions: one practice client
// websocket paired with one upstream live session.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/room4-2/LinguaLive/metrics"
	"go.uber.org/zap"
)

// ErrMaxSessions is returned by CreateSession when the relay is full.
var ErrMaxSessions = errors.New("maximum sessions reached")

const (
	sessionKeyPrefix  = "session:"
	activeSessionsKey = "active_sessions"
	cleanupInterval   = time.Minute
)

// ManagerConfig bounds the relay.
type ManagerConfig struct {
	MaxSessions    int
	SessionTimeout time.Duration
	KeepAlive      time.Duration
}

// Manager manages all client sessions
type Manager struct {
	sessions map[string]*ClientSession
	mu       sync.RWMutex
	redis    *redis.Client
	config   ManagerConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// ConnectRedis returns a client for addr, or nil when redis does not answer.
// Redis is optional; callers fall back to in-memory state.
func ConnectRedis(ctx context.Context, addr, password string, logger *zap.Logger) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable, continuing without it", zap.String("addr", addr), zap.Error(err))
		client.Close()
		return nil
	}
	logger.Info("Connected to Redis", zap.String("addr", addr))
	return client
}

// NewManager creates a session manager. redisClient may be nil.
func NewManager(cfg ManagerConfig, redisClient *redis.Client, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*ClientSession),
		redis:    redisClient,
		config:   cfg,
		metrics:  m,
		logger:   logger.With(zap.String("component", "session_manager")),
	}
}

// CreateSession registers a new client session for conn
func (sm *Manager) CreateSession(ctx context.Context, conn *websocket.Conn) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.config.MaxSessions > 0 && len(sm.sessions) >= sm.config.MaxSessions {
		if sm.metrics != nil {
			sm.metrics.RecordRejected("capacity")
		}
		return nil, ErrMaxSessions
	}

	sessionID := uuid.New().String()
	session := NewClientSession(sessionID, conn, sm.config.KeepAlive, sm.metrics, sm.logger)

	sm.storeSession(ctx, sessionID, session)
	if sm.metrics != nil {
		sm.metrics.RecordSessionStart()
	}
	sm.logger.Info("Session created", zap.String("session_id", sessionID), zap.Int("active", len(sm.sessions)))
	return session, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, sessionID string, session *ClientSession) {
	sm.sessions[sessionID] = session

	if sm.redis != nil {
		pipe := sm.redis.TxPipeline()
		pipe.HSet(ctx, sessionKeyPrefix+sessionID, map[string]interface{}{
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.LastActivity().Format(time.RFC3339),
			"status":        "active",
		})
		pipe.SAdd(ctx, activeSessionsKey, sessionID)
		pipe.Expire(ctx, sessionKeyPrefix+sessionID, sm.config.SessionTimeout)
		if _, err := pipe.Exec(ctx); err != nil {
			sm.logger.Warn("Failed to record session in redis", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

// forget drops a session from redis
func (sm *Manager) forget(ctx context.Context, sessionID string) {
	if sm.redis == nil {
		return
	}
	pipe := sm.redis.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+sessionID)
	pipe.SRem(ctx, activeSessionsKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		sm.logger.Warn("Failed to remove session from redis", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	session, exists := sm.sessions[sessionID]
	if !exists {
		sm.mu.Unlock()
		return nil
	}
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	sm.release(ctx, sessionID, session)
	return nil
}

func (sm *Manager) release(ctx context.Context, sessionID string, session *ClientSession) {
	session.Close()
	sm.forget(ctx, sessionID)
	if sm.metrics != nil {
		sm.metrics.RecordSessionEnd(time.Since(session.CreatedAt).Seconds())
	}
	sm.logger.Info("Session removed", zap.String("session_id", sessionID))
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions that have been inactive longer
// than the session timeout
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) int {
	if sm.config.SessionTimeout <= 0 {
		return 0
	}

	now := time.Now()
	stale := make(map[string]*ClientSession)

	sm.mu.Lock()
	for id, session := range sm.sessions {
		if now.Sub(session.LastActivity()) > sm.config.SessionTimeout {
			stale[id] = session
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	for id, session := range stale {
		sm.logger.Info("Closing inactive session", zap.String("session_id", id))
		sm.release(ctx, id, session)
	}
	return len(stale)
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*ClientSession)
	sm.mu.Unlock()

	for id, session := range sessions {
		sm.release(ctx, id, session)
	}
}
