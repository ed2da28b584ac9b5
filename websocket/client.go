package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/nee-hit476/Jenji/config"
)

const websocketRetryDelay = 200 * time.Millisecond

// Annotated frames are large payloads at frame rate; jsoniter keeps the
// serialization cost off the hot path.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrSessionClosed is returned when writing to an already closed session.
var ErrSessionClosed = errors.New("client session is closed")

// ClientSession represents a connected websocket client.
type ClientSession struct {
	ID            string
	conn          *websocket.Conn
	ctx           context.Context
	cancel        context.CancelFunc
	cfg           *config.WebSocketConfig
	log           *logrus.Logger
	lastActivity  atomic.Int64
	pingTicker    *time.Ticker
	activityTimer *time.Timer
	mu            sync.Mutex
	closed        bool
}

// NewClientSession creates a new client session.
func NewClientSession(id string, conn *websocket.Conn, cfg *config.WebSocketConfig, log *logrus.Logger) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())
	cs := &ClientSession{
		ID:     id,
		conn:   conn,
		cfg:    cfg,
		log:    log,
		cancel: cancel,
		ctx:    ctx,
	}
	cs.lastActivity.Store(time.Now().Unix())
	return cs
}

// SafeWriteJSON writes a payload to the websocket with retry capability.
// Concurrent writers are serialized by the session mutex, so results for
// one client can never interleave on the wire.
func (s *ClientSession) SafeWriteJSON(data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	writeTimeout := time.Duration(s.cfg.WriteTimeout) * time.Second
	operation := func() error {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return s.conn.WriteMessage(websocket.TextMessage, payload)
	}

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(websocketRetryDelay),
			uint64(s.cfg.MaxRetries),
		),
		s.ctx,
	)

	return backoff.RetryNotify(operation, strategy, func(err error, d time.Duration) {
		s.log.Warnf("Retrying WebSocket write to %s: %v (next attempt in %s)", s.ID, err, d)
	})
}

// UpdateActivity updates the last activity timestamp and resets the
// timeout timer. This should only be called for actual client messages,
// not pong responses.
func (s *ClientSession) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity.Store(time.Now().Unix())

	if s.activityTimer != nil {
		s.activityTimer.Stop()
		s.activityTimer = time.AfterFunc(
			time.Duration(s.cfg.ActivityTimeout)*time.Second,
			s.onActivityTimeout,
		)
	}
}

// LastActivityTime returns the time of last activity.
func (s *ClientSession) LastActivityTime() time.Time {
	return time.Unix(s.lastActivity.Load(), 0)
}

func (s *ClientSession) StartTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activityTimer = time.AfterFunc(
		time.Duration(s.cfg.ActivityTimeout)*time.Second,
		s.onActivityTimeout,
	)

	s.pingTicker = time.NewTicker(
		time.Duration(s.cfg.PingInterval) * time.Second,
	)
	go s.pingLoop()
}

func (s *ClientSession) pingLoop() {
	defer s.pingTicker.Stop()

	for {
		select {
		case <-s.pingTicker.C:
			if err := s.SendPing(); err != nil {
				s.log.Warnf("Failed to send ping to %s: %v", s.ID, err)
				s.Close(websocket.CloseInternalServerErr, "Ping failure")
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ClientSession) onActivityTimeout() {
	s.log.Infof("Connection %s timed out", s.ID)
	s.Close(websocket.ClosePolicyViolation, "Inactivity timeout")
}

func (s *ClientSession) SendPing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	return s.conn.WriteControl(
		websocket.PingMessage,
		[]byte{},
		time.Now().Add(time.Duration(s.cfg.WriteTimeout)*time.Second),
	)
}

// UpdateLastSeen updates only the timestamp (for pong responses).
// Does NOT reset the activity timer.
func (s *ClientSession) UpdateLastSeen() {
	s.lastActivity.Store(time.Now().Unix())
}

// RefreshReadDeadline extends the connection's read deadline by the pong
// timeout. Must be called from the read goroutine; pong handlers run
// there, as does the message loop.
func (s *ClientSession) RefreshReadDeadline() {
	s.conn.SetReadDeadline(time.Now().Add(time.Duration(s.cfg.PongTimeout) * time.Second))
}

// GetPongHandler returns a pong handler function based on configuration.
// Every pong pushes the read deadline out, so a peer that stops
// answering pings fails the read within the pong timeout.
func (s *ClientSession) GetPongHandler() func(string) error {
	return func(msg string) error {
		s.RefreshReadDeadline()
		if s.cfg.KeepAlive {
			s.UpdateActivity() // Reset timeout timer
		} else {
			s.UpdateLastSeen() // Just update timestamp
		}
		return nil
	}
}

// Close closes the websocket connection. Safe to call more than once.
func (s *ClientSession) Close(code int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.pingTicker != nil {
		s.pingTicker.Stop()
	}
	if s.activityTimer != nil {
		s.activityTimer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}

	writeTimeout := time.Duration(s.cfg.WriteTimeout) * time.Second
	err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(writeTimeout),
	)
	if err != nil {
		s.log.Debugf("Error sending close message to %s: %v", s.ID, err)
	}

	return s.conn.Close()
}
