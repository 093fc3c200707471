package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxReconnectAttempts bounds automatic reconnection after an
	// unexpected close. Once exhausted the caller must reconnect manually.
	DefaultMaxReconnectAttempts = 5
	// DefaultRetryDelay is the fixed (not exponential) wait between attempts.
	DefaultRetryDelay = 5 * time.Second

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

var ErrNotConnected = errors.New("socket is not connected")

// socketHooks customizes the shared socket core for a specific adapter.
type socketHooks struct {
	// onOpen runs after a successful dial, before the read loop starts.
	// Adapters use it to send session init frames.
	onOpen func(s *socket)
	// onFrame receives every inbound frame payload in arrival order.
	onFrame func(payload []byte)
	// onStatus observes every status transition.
	onStatus func(Status)
	// pingPayload, when non-nil, is sent every pingInterval while open.
	pingPayload  func() any
	pingInterval time.Duration
}

// socket owns exactly one websocket connection and its reconnection state.
// The reconnect rule: retry only when the close was neither manual nor a
// normal closure (1000) and attempts < max; wait a fixed delay, then dial the
// same endpoint again unless a manual disconnect happened in the interim.
type socket struct {
	logger *logrus.Entry
	hooks  socketHooks
	dialer *websocket.Dialer

	maxAttempts int
	retryDelay  time.Duration

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	manual     bool
	endpoint   string
	attempts   int
	generation int
	pingStop   chan struct{}

	writeMu sync.Mutex
}

func newSocket(logger *logrus.Entry, hooks socketHooks) *socket {
	return &socket{
		logger:      logger,
		hooks:       hooks,
		dialer:      &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		maxAttempts: DefaultMaxReconnectAttempts,
		retryDelay:  DefaultRetryDelay,
	}
}

func (s *socket) setStatus(status Status) {
	if s.hooks.onStatus != nil {
		s.hooks.onStatus(status)
	}
}

// connect dials the endpoint, replacing any existing connection. It resets the
// manual-disconnect flag: a fresh connect is always intentional.
func (s *socket) connect(endpoint string) error {
	s.mu.Lock()
	s.endpoint = endpoint
	s.manual = false
	s.closeLocked(websocket.CloseNormalClosure)
	s.mu.Unlock()

	s.setStatus(Status{State: StateConnecting})

	conn, _, err := s.dialer.Dial(endpoint, nil)
	if err != nil {
		s.logger.WithError(err).WithField("endpoint", endpoint).Warn("websocket dial failed")
		s.setStatus(Status{State: StateError})
		s.handleClose(websocket.CloseAbnormalClosure)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.attempts = 0
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.setStatus(Status{State: StateConnected})

	if s.hooks.onOpen != nil {
		s.hooks.onOpen(s)
	}
	s.startPing(gen)
	go s.readLoop(conn, gen)
	return nil
}

// disconnect closes the connection with a normal closure. A manual disconnect
// additionally suppresses any pending or future reconnection.
func (s *socket) disconnect(manual bool) {
	s.mu.Lock()
	if manual {
		s.manual = true
	}
	s.closeLocked(websocket.CloseNormalClosure)
	s.attempts = 0
	s.mu.Unlock()

	s.setStatus(Status{State: StateDisconnected})
}

// closeLocked tears down the current connection without status reporting.
// Callers hold s.mu. Bumping the generation makes the old read loop treat its
// read error as stale instead of an unexpected close.
func (s *socket) closeLocked(code int) {
	s.stopPingLocked()
	if s.conn != nil {
		deadline := time.Now().Add(500 * time.Millisecond)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	s.generation++
}

func (s *socket) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && s.conn != nil
}

// send writes one JSON frame. When the socket is not connected this is a
// warning-logged no-op returning ErrNotConnected; it never panics.
func (s *socket) send(v any) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.connected
	s.mu.Unlock()
	if conn == nil || !connected {
		s.logger.Warn("cannot send frame, socket is not connected")
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (s *socket) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			stale := gen != s.generation
			s.mu.Unlock()
			if stale {
				return
			}
			code := websocket.CloseAbnormalClosure
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
			}
			s.logger.WithField("code", code).WithError(err).Info("websocket closed")
			s.handleClose(code)
			return
		}

		s.mu.Lock()
		stale := gen != s.generation
		s.mu.Unlock()
		if stale {
			return
		}
		if s.hooks.onFrame != nil {
			s.hooks.onFrame(payload)
		}
	}
}

// handleClose applies the reconnection policy after a connection ends.
func (s *socket) handleClose(code int) {
	s.mu.Lock()
	s.stopPingLocked()
	s.conn = nil
	s.connected = false
	s.generation++
	manual := s.manual
	endpoint := s.endpoint

	if manual || code == websocket.CloseNormalClosure || endpoint == "" {
		s.mu.Unlock()
		s.setStatus(Status{State: StateDisconnected})
		return
	}

	if s.attempts >= s.maxAttempts {
		s.mu.Unlock()
		s.setStatus(Status{State: StateExhausted})
		return
	}

	s.attempts++
	attempt := s.attempts
	delay := s.retryDelay
	s.mu.Unlock()

	s.setStatus(Status{State: StateReconnecting, Attempt: attempt, Max: s.maxAttempts})
	s.logger.WithField("attempt", attempt).WithField("max", s.maxAttempts).Info("scheduling websocket reconnect")

	go func() {
		time.Sleep(delay)

		// Double-check: a manual disconnect or a fresh connect may have
		// happened while we were waiting.
		s.mu.Lock()
		skip := s.manual || s.connected || s.endpoint == ""
		endpoint := s.endpoint
		s.mu.Unlock()
		if skip {
			return
		}
		_ = s.reconnect(endpoint)
	}()
}

// reconnect re-dials without resetting the manual flag or attempt counter the
// way a caller-initiated connect would.
func (s *socket) reconnect(endpoint string) error {
	s.setStatus(Status{State: StateConnecting})

	conn, _, err := s.dialer.Dial(endpoint, nil)
	if err != nil {
		s.logger.WithError(err).WithField("endpoint", endpoint).Warn("websocket reconnect dial failed")
		s.handleClose(websocket.CloseAbnormalClosure)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.attempts = 0
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.setStatus(Status{State: StateConnected})

	if s.hooks.onOpen != nil {
		s.hooks.onOpen(s)
	}
	s.startPing(gen)
	go s.readLoop(conn, gen)
	return nil
}

func (s *socket) startPing(gen int) {
	if s.hooks.pingPayload == nil || s.hooks.pingInterval <= 0 {
		return
	}

	stop := make(chan struct{})
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.pingStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.hooks.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.send(s.hooks.pingPayload()); err != nil {
					return
				}
			}
		}
	}()
}

func (s *socket) stopPingLocked() {
	if s.pingStop != nil {
		close(s.pingStop)
		s.pingStop = nil
	}
}
