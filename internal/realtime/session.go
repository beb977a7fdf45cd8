package realtime

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session lifecycle states.
const (
	stateAwaitingAuth int32 = iota
	stateAuthenticated
	stateClosing
)

// Session owns one live transport connection: its authentication state, the
// keepalive bookkeeping, and the send/receive framing for a single client.
// Inbound frames are processed in arrival order by the single read loop.
type Session struct {
	hub    *Hub
	socket *websocket.Conn
	log    *zap.Logger

	// identity established during the HTTP upgrade; the auth frame must match.
	userID string
	role   string

	// recipientID is set when the auth frame is accepted and the session is
	// registered with the hub.
	recipientID string

	state        atomic.Int32
	lastActivity atomic.Int64
	closeCode    atomic.Int32

	send chan Frame
	done chan struct{}
	once sync.Once
}

func newSession(hub *Hub, socket *websocket.Conn, userID, role string) *Session {
	s := &Session{
		hub:    hub,
		socket: socket,
		log:    hub.log,
		userID: userID,
		role:   role,
		send:   make(chan Frame, sendBufferSize),
		done:   make(chan struct{}),
	}
	s.closeCode.Store(websocket.CloseNormalClosure)
	s.touch()
	return s
}

// Authenticated reports whether the auth handshake completed.
func (s *Session) Authenticated() bool {
	return s.state.Load() == stateAuthenticated
}

// LastActivity returns the time of the most recent inbound keepalive or
// application message.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) readLoop() {
	defer s.close()

	s.socket.SetReadLimit(maxMessageSize)
	_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
	s.socket.SetPongHandler(func(string) error {
		s.touch()
		_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := s.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("unexpected close", zap.String("user_id", s.userID), zap.Error(err))
			}
			return
		}

		if len(payload) == 0 {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.log.Warn("invalid frame payload", zap.String("user_id", s.userID), zap.Error(err))
			continue
		}

		s.touch()
		_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))

		switch frame.Type {
		case FrameAuth:
			s.handleAuth(frame)
		case FramePing:
			s.enqueue(Frame{Type: FramePong})
		default:
			s.log.Debug("unsupported inbound frame", zap.String("type", frame.Type), zap.String("user_id", s.userID))
		}
	}
}

// handleAuth registers the session with the hub once the auth frame matches
// the transport-authenticated identity. Deliveries can only reach the session
// after registration, so an unauthenticated session never sees push frames.
func (s *Session) handleAuth(frame Frame) {
	if !s.state.CompareAndSwap(stateAwaitingAuth, stateAuthenticated) {
		return // repeated auth frames are ignored
	}

	if frame.RecipientID != s.userID {
		s.log.Warn("auth frame identity mismatch",
			zap.String("user_id", s.userID),
			zap.String("claimed", frame.RecipientID),
		)
		s.closeWithCode(websocket.ClosePolicyViolation)
		return
	}

	s.recipientID = s.userID
	s.hub.register(s)
	s.enqueue(Frame{Type: FrameAuthSuccess})
}

// enqueue hands a frame to the write loop without blocking. A full buffer
// means the peer stopped draining; the session is closed and the hub treats
// it as an implicit disconnect.
func (s *Session) enqueue(frame Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	default:
		s.log.Warn("dropping backpressure session", zap.String("user_id", s.userID))
		s.close()
		return false
	}
}

// writeLoop is the sole writer on the socket. It also owns the transport
// close: when done is observed it emits the close frame and drops the
// connection, which in turn unblocks the read loop.
func (s *Session) writeLoop() {
	defer func() {
		s.close()
		_ = s.socket.Close()
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.socket.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(int(s.closeCode.Load()), ""))
			return
		case frame := <-s.send:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.socket.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeWithCode records the close code for the write loop's close frame and
// tears the session down. All socket writes stay on the write loop.
func (s *Session) closeWithCode(code int) {
	s.closeCode.Store(int32(code))
	s.close()
}

// close tears the session down exactly once. The hub unregisters
// synchronously with the close, never on a delay. The write loop observes
// done, emits the close frame, and exits; the read loop unblocks when the
// socket closes beneath it.
func (s *Session) close() {
	s.once.Do(func() {
		s.state.Store(stateClosing)
		s.hub.unregister(s)
		close(s.done)
	})
}
