package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargepay/backend/services/payments-service/internal/apperr"
	"chargepay/backend/services/payments-service/internal/http/middleware"
	"chargepay/backend/services/payments-service/internal/models"
	"chargepay/backend/services/payments-service/internal/service"
)

// LinkSource provides the current link of a session sent when a subscriber connects.
type LinkSource interface {
	GetActiveOrLatest(ctx context.Context, sessionID string) (*service.LinkView, error)
}

// SessionSource resolves session ownership for authenticated subscribers.
type SessionSource interface {
	Session(ctx context.Context, sessionID string) (*models.Session, error)
}

// Server upgrades HTTP requests to payment status streams.
type Server struct {
	hub          *Hub
	sessions     SessionSource
	links        LinkSource
	logger       *zap.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewServer builds ws server. allowedOrigins empty accepts any origin.
func NewServer(hub *Hub, sessions SessionSource, links LinkSource, writeTimeout time.Duration, allowedOrigins []string, logger *zap.Logger) *Server {
	return &Server{
		hub:          hub,
		sessions:     sessions,
		links:        links,
		logger:       logger,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// HandleEvents serves GET /api/v1/sessions/{sessionId}/events.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	if !s.authorize(w, r, sessionID) {
		return
	}

	var snapshot *service.LinkView
	if s.links != nil {
		view, err := s.links.GetActiveOrLatest(r.Context(), sessionID)
		switch {
		case err == nil:
			snapshot = view
		case apperr.KindOf(err) == apperr.KindNotFound:
		default:
			s.logger.Error("failed to load link snapshot", zap.String("session_id", sessionID), zap.Error(err))
			http.Error(w, "failed to load payment link", http.StatusInternalServerError)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := NewConnection(sessionID, conn, s.writeTimeout, s.logger, func(c *Connection) {
		s.hub.Remove(c)
		cancel()
	})
	s.hub.Add(connection, cancel)

	if snapshot != nil {
		if payload, err := s.hub.encode(&snapshot.PaymentLink); err == nil {
			connection.Send(payload)
		}
	}

	go connection.Start(ctx)
	s.logger.Info("payment stream connected",
		zap.String("session_id", sessionID),
		zap.String("connection_id", connection.ID()),
	)
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	caller, ok := middleware.UserIDFromContext(r.Context())
	if !ok || s.sessions == nil {
		return true
	}
	session, err := s.sessions.Session(r.Context(), sessionID)
	switch {
	case apperr.KindOf(err) == apperr.KindNotFound:
		http.Error(w, "session not found", http.StatusNotFound)
		return false
	case err != nil:
		s.logger.Error("failed to load session", zap.String("session_id", sessionID), zap.Error(err))
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return false
	case session.UserID != caller:
		s.logger.Warn("rejected stream for foreign session",
			zap.String("session_id", sessionID),
			zap.String("user_id", caller),
		)
		http.Error(w, "access to another user's session is not allowed", http.StatusForbidden)
		return false
	}
	return true
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
