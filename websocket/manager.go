package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nee-hit476/Jenji/metrics"
	"github.com/nee-hit476/Jenji/session"
)

// ClientManager tracks live websocket sessions and persists their
// metadata in the session store. It is also the delivery side of the
// pipeline: results are routed back to clients through Send.
type ClientManager struct {
	clients  sync.Map // clientID -> *ClientSession
	count    atomic.Int64
	store    session.Store
	serverID string
	log      *logrus.Logger
}

// NewClientManager creates a manager backed by the given session store.
func NewClientManager(store session.Store, serverID string, log *logrus.Logger) *ClientManager {
	return &ClientManager{
		store:    store,
		serverID: serverID,
		log:      log,
	}
}

// AddClient registers a session. A reconnect under the same client ID
// displaces the previous connection, which is closed.
func (m *ClientManager) AddClient(ctx context.Context, cs *ClientSession) error {
	prev, loaded := m.clients.Swap(cs.ID, cs)
	if loaded {
		m.log.Warnf("Client %s reconnected, closing previous connection", cs.ID)
		prev.(*ClientSession).Close(websocket.ClosePolicyViolation, "Superseded by new connection")
	} else {
		m.count.Add(1)
	}

	err := m.store.Create(ctx, &session.Session{
		ClientID:    cs.ID,
		ServerID:    m.serverID,
		ConnectedAt: time.Now(),
	})
	if err != nil {
		m.log.Errorf("Failed to persist session for %s: %v", cs.ID, err)
	}

	metrics.ActiveConnections.Inc()
	metrics.TotalConnections.Inc()
	return nil
}

// RemoveClient drops the session from the registry and the store. It is
// a no-op when the stored session belongs to a newer connection.
func (m *ClientManager) RemoveClient(ctx context.Context, cs *ClientSession) {
	current, ok := m.clients.Load(cs.ID)
	if !ok || current.(*ClientSession) != cs {
		return
	}
	m.clients.Delete(cs.ID)
	m.count.Add(-1)
	metrics.ActiveConnections.Dec()

	if err := m.store.Delete(ctx, cs.ID); err != nil {
		m.log.Errorf("Failed to delete session for %s: %v", cs.ID, err)
	}
}

// GetClient returns the live session for a client ID.
func (m *ClientManager) GetClient(clientID string) (*ClientSession, bool) {
	v, ok := m.clients.Load(clientID)
	if !ok {
		return nil, false
	}
	return v.(*ClientSession), true
}

// Count returns the number of connected clients.
func (m *ClientManager) Count() int {
	return int(m.count.Load())
}

// RefreshSessionTTL extends the stored session's lifetime.
func (m *ClientManager) RefreshSessionTTL(ctx context.Context, clientID string) {
	if err := m.store.RefreshTTL(ctx, clientID); err != nil {
		m.log.Debugf("Failed to refresh session TTL for %s: %v", clientID, err)
	}
}

// Send delivers a payload to one client. A missing client is a silent
// no-op: the result of a frame whose sender disconnected mid-processing
// is discarded, not misdelivered. A write failure closes the connection.
func (m *ClientManager) Send(clientID string, payload interface{}) error {
	cs, ok := m.GetClient(clientID)
	if !ok {
		return nil
	}

	if err := cs.SafeWriteJSON(payload); err != nil {
		m.log.Warnf("Dropping client %s after write failure: %v", clientID, err)
		cs.Close(websocket.CloseInternalServerErr, "Write failure")
		m.RemoveClient(context.Background(), cs)
		return err
	}

	metrics.ResponsesSent.Inc()
	return nil
}

// CloseAllConnections closes every live session, used at shutdown.
func (m *ClientManager) CloseAllConnections(reason string) {
	m.clients.Range(func(key, value interface{}) bool {
		cs := value.(*ClientSession)
		cs.Close(websocket.CloseGoingAway, reason)
		m.RemoveClient(context.Background(), cs)
		return true
	})
}
