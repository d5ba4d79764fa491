package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargepay/backend/services/payments-service/internal/metrics"
	"chargepay/backend/services/payments-service/internal/models"
)

// EventLinkUpdated is the only event type pushed to subscribers.
const EventLinkUpdated = "payment_link.updated"

// LinkEvent is the message pushed when a session's payment link changes.
type LinkEvent struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	LinkID     string    `json:"link_id"`
	Status     string    `json:"status"`
	PaymentURL string    `json:"payment_url"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	ExpiresAt  time.Time `json:"expires_at"`
	IsExpired  bool      `json:"is_expired"`
}

// Hub tracks stream connections by session and fans link changes out to them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Connection]context.CancelFunc
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewHub builds connection hub.
func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]map[*Connection]context.CancelFunc),
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Add registers a connection. cancel stops its pumps when the hub closes.
func (h *Hub) Add(conn *Connection, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.sessions[conn.SessionID()]
	if !ok {
		conns = make(map[*Connection]context.CancelFunc)
		h.sessions[conn.SessionID()] = conns
	}
	conns[conn] = cancel
	h.metrics.StreamClients(1)
}

// Remove unregisters a connection.
func (h *Hub) Remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.sessions[conn.SessionID()]
	if !ok {
		return
	}
	if _, ok := conns[conn]; !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.sessions, conn.SessionID())
	}
	h.metrics.StreamClients(-1)
}

// Subscribers returns the number of connections streaming sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// NotifyLink pushes link to every subscriber of its session.
func (h *Hub) NotifyLink(link *models.PaymentLink) {
	if link == nil {
		return
	}
	payload, err := h.encode(link)
	if err != nil {
		h.logger.Warn("failed to encode link event", zap.String("link_id", link.ID), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.sessions[link.SessionID] {
		conn.Send(payload)
	}
}

// Close stops every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.sessions {
		for _, cancel := range conns {
			cancel()
		}
	}
}

func (h *Hub) encode(link *models.PaymentLink) ([]byte, error) {
	return json.Marshal(LinkEvent{
		Type:       EventLinkUpdated,
		SessionID:  link.SessionID,
		LinkID:     link.ID,
		Status:     link.Status,
		PaymentURL: link.PaymentURL,
		Amount:     link.Amount.StringFixed(2),
		Currency:   link.Currency,
		ExpiresAt:  link.ExpiresAt,
		IsExpired:  link.IsExpiredAt(h.now()),
	})
}
