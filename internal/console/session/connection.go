package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/screencontrol/sc-console/internal/console/protocol"
	"github.com/screencontrol/sc-console/internal/util"
)

// State is the connection lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

// backoffSchedule spaces reconnect attempts. Attempts beyond the last entry
// keep its delay; there is no retry cap.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	15 * time.Second,
}

// backoffDelay returns the wait before reconnect attempt number attempt.
func backoffDelay(attempt int) time.Duration {
	if attempt >= len(backoffSchedule) {
		attempt = len(backoffSchedule) - 1
	}
	return backoffSchedule[attempt]
}

// retryDelay picks the backoff step for the next dial. A connection that was
// open counts its drop as the first failure; a client that has never
// connected starts the schedule at its first failed dial.
func retryDelay(wasOpen bool, attempt int) time.Duration {
	idx := attempt
	if !wasOpen && idx > 0 {
		idx--
	}
	return backoffDelay(idx)
}

// heartbeatInterval spaces Ping messages while connected.
const heartbeatInterval = 2 * time.Second

// ErrNotConnected is returned by Send while no transport is open.
var ErrNotConnected = errors.New("not connected")

// Handlers receives session events. Callbacks run on session goroutines and
// must not block for long.
type Handlers struct {
	// OnState fires on every lifecycle transition.
	OnState func(State)

	// OnMessage receives every decoded server envelope except Pong,
	// which the session consumes for latency measurement.
	OnMessage func(*protocol.Envelope)

	// OnRTT fires with each heartbeat round-trip measurement.
	OnRTT func(time.Duration)
}

// Session maintains one console connection to the session server,
// reconnecting with backoff after unexpected closes until Close is called
// or the server ends the session.
type Session struct {
	serverURL string
	sessionID string
	token     string
	instance  string
	handlers  Handlers
	dialer    *websocket.Dialer
	logger    *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	state     State
	attempt   int
	cancelled bool
	wasOpen   bool

	writeMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a session for /ws/console/{sessionID} on serverURL. token, if
// set, is sent as a bearer credential on the handshake.
func New(serverURL, sessionID, token string, handlers Handlers) *Session {
	s := &Session{
		serverURL: serverURL,
		sessionID: sessionID,
		token:     token,
		instance:  uuid.NewString(),
		handlers:  handlers,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		state: StateDisconnected,
		done:  make(chan struct{}),
	}
	s.logger = util.GetLogger().With("session", sessionID, "conn", s.instance)
	return s
}

// Start launches the connect loop. It returns immediately.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.run()
}

// ID returns the unique identifier of this session instance.
func (s *Session) ID() string {
	return s.instance
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.logger.Debug("session state changed", "state", state.String())
	if s.handlers.OnState != nil {
		s.handlers.OnState(state)
	}
}

func (s *Session) wsURL() (string, error) {
	u, err := url.Parse(s.serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/console/" + s.sessionID
	return u.String(), nil
}

func (s *Session) run() {
	defer s.wg.Done()

	wsURL, err := s.wsURL()
	if err != nil {
		s.logger.Error("invalid server url", "error", err)
		s.setState(StateDisconnected)
		return
	}

	for {
		if s.isCancelled() {
			s.setState(StateDisconnected)
			return
		}

		s.mu.Lock()
		wasOpen := s.wasOpen
		attempt := s.attempt
		s.mu.Unlock()

		if wasOpen {
			s.setState(StateReconnecting)
		} else {
			s.setState(StateConnecting)
		}

		if wasOpen || attempt > 0 {
			delay := retryDelay(wasOpen, attempt)
			s.logger.Info("retrying connection", "attempt", attempt+1, "delay", delay)
			select {
			case <-s.done:
				s.setState(StateDisconnected)
				return
			case <-time.After(delay):
			}
		}

		header := http.Header{}
		if s.token != "" {
			header.Set("Authorization", "Bearer "+s.token)
		}

		conn, _, err := s.dialer.Dial(wsURL, header)
		if err != nil {
			s.mu.Lock()
			s.attempt++
			s.mu.Unlock()
			s.logger.Warn("dial failed", "error", err)
			continue
		}

		conn.SetReadLimit(protocol.MaxMessageSize)

		s.mu.Lock()
		if s.cancelled {
			s.mu.Unlock()
			conn.Close()
			s.setState(StateDisconnected)
			return
		}
		s.conn = conn
		s.attempt = 0
		s.wasOpen = true
		s.mu.Unlock()

		s.setState(StateConnected)

		pingDone := make(chan struct{})
		var pingWG sync.WaitGroup
		pingWG.Add(1)
		go func() {
			defer pingWG.Done()
			s.heartbeat(pingDone)
		}()

		serverEnded := s.readLoop(conn)

		close(pingDone)
		pingWG.Wait()

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()

		if serverEnded {
			s.mu.Lock()
			s.cancelled = true
			s.mu.Unlock()
		}
		if s.isCancelled() {
			s.setState(StateDisconnected)
			return
		}
	}
}

// readLoop pumps incoming messages until the transport fails. It returns
// true when the server ended the session, which suppresses reconnects.
func (s *Session) readLoop(conn *websocket.Conn) bool {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !s.isCancelled() {
				s.logger.Warn("connection lost", "error", err)
			}
			return false
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			// A malformed message is dropped, never fatal.
			s.logger.Debug("dropping undecodable message", "error", err, "size", len(data))
			continue
		}

		switch env.Kind {
		case protocol.KindPong:
			rtt := time.Duration(nowMillis()-int64(env.Pong.Timestamp)) * time.Millisecond
			if rtt < 0 {
				rtt = 0
			}
			if s.handlers.OnRTT != nil {
				s.handlers.OnRTT(rtt)
			}

		case protocol.KindSessionEnd:
			s.logger.Info("session ended by server", "reason", env.SessionEnd.Reason)
			if s.handlers.OnMessage != nil {
				s.handlers.OnMessage(env)
			}
			return true

		default:
			if s.handlers.OnMessage != nil {
				s.handlers.OnMessage(env)
			}
		}
	}
}

// heartbeat sends a Ping with the local clock every interval; the server
// echoes the timestamp back in a Pong.
func (s *Session) heartbeat(done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.Send(protocol.EncodePing(uint64(nowMillis()))); err != nil {
				return
			}
		}
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Send writes one binary message. Writers are serialized; gorilla permits
// only one concurrent writer.
func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// TrySend writes best-effort and reports whether the transport accepted the
// message. Used for fire-and-forget input.
func (s *Session) TrySend(data []byte) bool {
	return s.Send(data) == nil
}

func (s *Session) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Close ends the session deliberately: a SessionEnd notice goes out while
// the transport is still open, then everything shuts down and no reconnect
// is attempted.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return nil
	}
	s.cancelled = true
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		if err := s.Send(protocol.EncodeSessionEnd("user closed session")); err != nil {
			s.logger.Debug("session end notice not sent", "error", err)
		}
		conn.Close()
	}
	close(s.done)
	s.wg.Wait()
	s.setState(StateDisconnected)
	return nil
}
