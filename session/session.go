package session

import (
	"context"
	"time"
)

// Session holds metadata about a client's connection. This is the record
// kept in the session store; the live pending-frame state lives in the
// pipeline dispatcher, not here.
type Session struct {
	ClientID    string    `json:"client_id"`
	ServerID    string    `json:"server_id"` // ID of the server instance handling the connection
	ConnectedAt time.Time `json:"connected_at"`
}

// Store defines the interface for session metadata management.
type Store interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error
	// Get retrieves a session by client ID. A missing session returns
	// (nil, nil); callers treat that as "already disconnected".
	Get(ctx context.Context, clientID string) (*Session, error)
	// Delete removes a session.
	Delete(ctx context.Context, clientID string) error
	// RefreshTTL extends the session's lifetime in the store.
	RefreshTTL(ctx context.Context, clientID string) error
}
