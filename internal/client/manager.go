package client

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/larkvale/pulsenote/internal/realtime"
	"github.com/larkvale/pulsenote/pkg/logger"
)

// Status models the connection manager's state machine.
type Status int

const (
	// StatusDisconnected is the initial state and the terminal state after a
	// normal closure, an explicit Disconnect, or exhausted reconnects.
	StatusDisconnected Status = iota
	// StatusConnecting covers the dial and handshake window.
	StatusConnecting
	// StatusConnected means the transport is open and the auth frame has been
	// sent. Logical readiness (server-confirmed auth) is reported by Ready.
	StatusConnected
	// StatusError means the transport failed abnormally and a reconnect is
	// pending or being scheduled.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "disconnected"
	}
}

// Identity is the authenticated principal on whose behalf the manager
// connects. Token is the bearer token accepted by the stream endpoint.
type Identity struct {
	RecipientID string
	Role        string
	Token       string
}

// Defaults for the reconnect/keepalive policy.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultBaseReconnectDelay   = time.Second
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultKeepAliveInterval    = 30 * time.Second
)

// wsConn is the subset of *websocket.Conn the manager uses; tests substitute
// a scripted implementation.
type wsConn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type dialFunc func(urlStr string, header http.Header) (wsConn, error)

// ManagerConfig configures a connection manager.
type ManagerConfig struct {
	// URL of the stream endpoint, ws:// or wss:// following the page scheme.
	URL string

	KeepAliveInterval    time.Duration
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int

	// OnFrame receives every application frame except pong and auth_success.
	OnFrame func(realtime.Frame)
	// OnDegraded fires once reconnect attempts are exhausted, so the caller
	// can surface "live updates unavailable" and lean on polling.
	OnDegraded func()

	dial dialFunc
}

func (cfg *ManagerConfig) applyDefaults() {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if cfg.BaseReconnectDelay <= 0 {
		cfg.BaseReconnectDelay = DefaultBaseReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.dial == nil {
		cfg.dial = func(urlStr string, header http.Header) (wsConn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(urlStr, header)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}
}

// Manager drives a single persistent notification stream: it dials, performs
// the auth handshake, keeps the connection alive, and reconnects with
// exponential backoff on abnormal closure. At most one transport is ever in
// flight; concurrent Connect calls while one is pending are no-ops.
type Manager struct {
	mu  sync.Mutex
	cfg ManagerConfig
	log *zap.Logger

	// writeMu serializes writes on the transport; gorilla connections
	// support one concurrent writer.
	writeMu sync.Mutex

	status   Status
	attempts int
	ready    bool

	identity *Identity
	conn     wsConn

	// gen invalidates callbacks from superseded connections and timers.
	gen int

	reconnectTimer *time.Timer
	keepaliveDone  chan struct{}

	lastDelay time.Duration
}

// NewManager constructs a connection manager; it does not connect.
func NewManager(cfg ManagerConfig) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg: cfg,
		log: logger.WithModule("client"),
	}
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Ready reports whether the server has acknowledged the auth frame on the
// current connection.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// ReconnectAttempts returns the consecutive failed-reconnect counter.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect starts a connection for the identity. It is a no-op while a
// connection is already connecting or connected; an explicit call from
// disconnected always resets the reconnect counter.
func (m *Manager) Connect(identity Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == StatusConnecting || m.status == StatusConnected {
		return
	}

	m.cancelReconnectLocked()
	m.identity = &identity
	m.attempts = 0
	m.startDialLocked()
}

// Disconnect closes the transport with a normal-closure code, cancels any
// pending reconnect, and resets the counter. Safe to call from any state,
// any number of times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++ // invalidate in-flight dials, read loops, timers
	m.cancelReconnectLocked()
	m.stopKeepaliveLocked()
	m.identity = nil
	m.attempts = 0
	m.ready = false
	m.status = StatusDisconnected

	if m.conn != nil {
		m.writeMu.Lock()
		_ = m.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		_ = m.conn.Close()
		m.conn = nil
	}
}

// startDialLocked transitions to connecting and launches the dial goroutine.
// Callers hold m.mu.
func (m *Manager) startDialLocked() {
	m.status = StatusConnecting
	m.ready = false
	m.gen++
	gen := m.gen

	identity := *m.identity
	go m.dialAndRun(gen, identity)
}

func (m *Manager) dialAndRun(gen int, identity Identity) {
	conn, err := m.cfg.dial(m.streamURL(identity), nil)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		m.log.Warn("dial failed", zap.Error(err))
		m.transportFailedLocked() // unlocks
		return
	}

	m.conn = conn
	m.status = StatusConnected

	// Optimistic local transition: the auth frame goes out immediately and
	// readiness is confirmed by auth_success.
	m.writeMu.Lock()
	writeErr := conn.WriteJSON(realtime.AuthFrame(identity.RecipientID, identity.Role))
	m.writeMu.Unlock()
	if writeErr != nil {
		m.log.Warn("auth frame write failed", zap.Error(writeErr))
		m.conn = nil
		_ = conn.Close()
		m.transportFailedLocked() // unlocks
		return
	}

	m.startKeepaliveLocked(gen, conn)
	m.mu.Unlock()

	m.readLoop(gen, conn)
}

func (m *Manager) readLoop(gen int, conn wsConn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.handleClosed(gen, err)
			return
		}

		var frame realtime.Frame
		if unmarshalErr := json.Unmarshal(payload, &frame); unmarshalErr != nil {
			m.log.Warn("invalid frame from server", zap.Error(unmarshalErr))
			continue
		}

		switch frame.Type {
		case realtime.FramePong:
			// keepalive reply, nothing to do
		case realtime.FrameAuthSuccess:
			m.mu.Lock()
			if gen == m.gen {
				m.ready = true
				m.attempts = 0
			}
			m.mu.Unlock()
		default:
			if m.cfg.OnFrame != nil {
				m.cfg.OnFrame(frame)
			}
		}
	}
}

// handleClosed reacts to the transport closing. Normal closure ends the
// session; a policy violation (rejected identity) is fatal for the current
// identity; anything else goes through the backoff schedule.
func (m *Manager) handleClosed(gen int, err error) {
	m.mu.Lock()

	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	m.stopKeepaliveLocked()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.ready = false

	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure):
		m.status = StatusDisconnected
		m.attempts = 0
		m.mu.Unlock()
	case websocket.IsCloseError(err, websocket.ClosePolicyViolation):
		m.log.Warn("server rejected identity; not reconnecting", zap.Error(err))
		m.identity = nil
		m.status = StatusDisconnected
		m.mu.Unlock()
	default:
		m.transportFailedLocked() // unlocks
	}
}

// transportFailedLocked schedules a reconnect if attempts remain, otherwise
// degrades. Called with m.mu held; releases it.
func (m *Manager) transportFailedLocked() {
	if m.identity == nil {
		m.status = StatusDisconnected
		m.mu.Unlock()
		return
	}

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.status = StatusDisconnected
		degraded := m.cfg.OnDegraded
		m.log.Warn("reconnect attempts exhausted; live updates degraded",
			zap.Int("attempts", m.attempts))
		m.mu.Unlock()
		if degraded != nil {
			degraded()
		}
		return
	}

	delay := reconnectDelay(m.attempts, m.cfg.BaseReconnectDelay, m.cfg.MaxReconnectDelay)
	m.attempts++
	m.lastDelay = delay
	m.status = StatusError
	gen := m.gen

	m.log.Info("scheduling reconnect",
		zap.Int("attempt", m.attempts),
		zap.Duration("delay", delay),
	)

	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if gen != m.gen || m.identity == nil {
			return
		}
		m.startDialLocked()
	})
	m.mu.Unlock()
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) startKeepaliveLocked(gen int, conn wsConn) {
	done := make(chan struct{})
	m.keepaliveDone = done

	interval := m.cfg.KeepAliveInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.mu.Lock()
				alive := gen == m.gen && m.status == StatusConnected
				m.mu.Unlock()
				if !alive {
					return
				}
				m.writeMu.Lock()
				err := conn.WriteJSON(realtime.Frame{Type: realtime.FramePing})
				m.writeMu.Unlock()
				if err != nil {
					// The read loop observes the broken transport and drives
					// the state transition.
					_ = conn.Close()
					return
				}
			}
		}
	}()
}

func (m *Manager) stopKeepaliveLocked() {
	if m.keepaliveDone != nil {
		close(m.keepaliveDone)
		m.keepaliveDone = nil
	}
}

// streamURL appends the bearer token as a query parameter; browsers cannot
// attach headers to WebSocket upgrades, so the endpoint accepts both.
func (m *Manager) streamURL(identity Identity) string {
	if identity.Token == "" {
		return m.cfg.URL
	}

	parsed, err := url.Parse(m.cfg.URL)
	if err != nil {
		return m.cfg.URL
	}
	query := parsed.Query()
	query.Set("token", identity.Token)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// reconnectDelay implements capped exponential backoff: base doubles per
// consecutive failure up to the ceiling.
func reconnectDelay(attempt int, base, ceiling time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}
