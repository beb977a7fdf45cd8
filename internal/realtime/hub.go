package realtime

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/larkvale/pulsenote/pkg/logger"
	"github.com/larkvale/pulsenote/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16 // 64 KiB; notification frames are small

	sendBufferSize = 64
)

// Hub is the process-wide registry of live, authenticated sessions keyed by
// recipient identity. It fans out push frames and is the only concurrently
// mutated shared resource in the delivery core.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// Stats summarises hub occupancy for health reporting.
type Stats struct {
	Recipients int `json:"recipients"`
	Sessions   int `json:"sessions"`
}

// NewHub constructs a notification hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]map[*Session]struct{}),
		log:      logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the HTTP connection to a WebSocket and runs the session
// loops. The identity must already be authenticated by the caller; the
// session still awaits its auth frame before it can receive deliveries.
func (h *Hub) Serve(userID, role string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	session := newSession(h, conn, userID, role)

	go session.writeLoop()
	session.readLoop()
}

// Deliver sends a frame to every live, authenticated session of the
// recipient. The session set is copied out under the read lock and sends
// happen outside it, so a slow client can never stall registration. A send
// failure evicts only the failed session.
func (h *Hub) Deliver(recipientID string, frame Frame) {
	if recipientID == "" {
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions[recipientID]))
	for session := range h.sessions[recipientID] {
		targets = append(targets, session)
	}
	h.mu.RUnlock()

	for _, session := range targets {
		if session.enqueue(frame) {
			metrics.FramesDelivered.WithLabelValues(frame.Type).Inc()
		} else {
			metrics.FramesDropped.WithLabelValues("backpressure").Inc()
		}
	}
}

// BroadcastCountUpdate pushes a count-only frame so clients can refresh an
// unread badge without refetching the list.
func (h *Hub) BroadcastCountUpdate(recipientID string, unread int64) {
	h.Deliver(recipientID, CountFrame(unread))
}

// register adds an authenticated session to its recipient's set. A session
// already mapped to another recipient is fully removed from that mapping
// first; a session never appears in two recipient sets.
func (h *Hub) register(s *Session) {
	if s == nil || s.recipientID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(s)

	if h.sessions[s.recipientID] == nil {
		h.sessions[s.recipientID] = make(map[*Session]struct{})
	}
	h.sessions[s.recipientID][s] = struct{}{}
	metrics.LiveSessions.Inc()

	h.log.Debug("session registered",
		zap.String("recipient_id", s.recipientID),
		zap.Int("sessions", len(h.sessions[s.recipientID])),
	)
}

// unregister removes a session from whatever recipient set it is in.
// It is idempotent: unknown sessions are a no-op.
func (h *Hub) unregister(s *Session) {
	if s == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Session) {
	for recipientID, set := range h.sessions {
		if _, ok := set[s]; !ok {
			continue
		}
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, recipientID)
		}
		metrics.LiveSessions.Dec()
		return
	}
}

// Stats reports current hub occupancy.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, set := range h.sessions {
		total += len(set)
	}
	return Stats{Recipients: len(h.sessions), Sessions: total}
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
