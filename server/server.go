// Package server exposes the relay over HTTP: practice clients connect to
// /ws and are paired with an upstream live session.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/room4-2/LinguaLive/config"
	"github.com/room4-2/LinguaLive/messages"
	"github.com/room4-2/LinguaLive/metrics"
	"github.com/room4-2/LinguaLive/session"
	"go.uber.org/zap"
)

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	upstream       session.Upstream
	metrics        *metrics.Metrics
	config         *config.Config
	logger         *zap.Logger
}

// New creates the relay server. Nothing listens until Start.
func New(cfg *config.Config, sessionManager *session.Manager, upstream session.Upstream, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessionManager: sessionManager,
		upstream:       upstream,
		metrics:        m,
		config:         cfg,
		logger:         logger.With(zap.String("component", "server")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024, // 64KB for audio chunks
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					// non-browser clients
					return true
				}
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.logger.Info("Relay server starting",
		zap.Int("port", s.config.Port),
		zap.String("endpoint", fmt.Sprintf("ws://localhost:%d/ws", s.config.Port)))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down relay server")
	s.sessionManager.Shutdown(ctx)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordRejected("upgrade")
		}
		return
	}

	clientSession, err := s.sessionManager.CreateSession(r.Context(), conn)
	if err != nil {
		s.logger.Warn("Failed to create session", zap.Error(err))
		code := messages.ErrCodeSessionFailed
		if errors.Is(err, session.ErrMaxSessions) {
			code = messages.ErrCodeRateLimited
		}
		if data, merr := messages.Marshal(messages.NewErrorMessage("", code, err.Error())); merr == nil {
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = conn.WriteMessage(websocket.TextMessage, data)
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, ""))
		}
		conn.Close()
		return
	}

	// Blocks until the client or the upstream goes away
	clientSession.Run(r.Context(), s.upstream)

	_ = s.sessionManager.RemoveSession(context.Background(), clientSession.ID)
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body, err := sonic.Marshal(healthResponse{Status: "ok", Sessions: s.sessionManager.GetActiveSessionCount()})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
