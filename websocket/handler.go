package websocket

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nee-hit476/Jenji/config"
	"github.com/nee-hit476/Jenji/metrics"
	"github.com/nee-hit476/Jenji/pipeline"
)

// Handler upgrades HTTP requests to websocket connections and feeds
// inbound frames into the processing pipeline.
type Handler struct {
	manager    *ClientManager
	dispatcher *pipeline.Dispatcher
	validator  *JWTValidator
	cfg        *config.AppConfig
	modelReady func() bool
	log        *logrus.Logger
	upgrader   websocket.Upgrader
}

// NewHandler wires the websocket entry point. modelReady reports
// detector readiness for the connection status message.
func NewHandler(manager *ClientManager, dispatcher *pipeline.Dispatcher, validator *JWTValidator, cfg *config.AppConfig, modelReady func() bool, log *logrus.Logger) *Handler {
	return &Handler{
		manager:    manager,
		dispatcher: dispatcher,
		validator:  validator,
		cfg:        cfg,
		modelReady: modelReady,
		log:        log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: time.Duration(cfg.WebSocket.HandshakeTimeout) * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			// Browsers stream camera frames from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type clientIDMessage struct {
	ClientID string `json:"client_id"`
}

type connectionStatus struct {
	Event       string `json:"event"`
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// HandleWebSocket authenticates, upgrades and then pumps frames from the
// connection into the dispatcher until the client goes away.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID, err := h.resolveClientID(r)
	if err != nil {
		h.log.Warnf("Rejected connection from %s: %v", r.RemoteAddr, err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if h.cfg.WebSocket.MaxConnections > 0 && h.manager.Count() >= h.cfg.WebSocket.MaxConnections {
		h.log.Warnf("Rejected connection from %s: connection limit reached", r.RemoteAddr)
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("WebSocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	cs := NewClientSession(clientID, conn, &h.cfg.WebSocket, h.log)
	conn.SetReadLimit(h.cfg.WebSocket.MessageSizeLimit)
	conn.SetPongHandler(cs.GetPongHandler())
	cs.RefreshReadDeadline()

	if err := h.manager.AddClient(r.Context(), cs); err != nil {
		h.log.Errorf("Failed to register client %s: %v", clientID, err)
		cs.Close(websocket.CloseInternalServerErr, "Registration failure")
		return
	}
	reg := h.dispatcher.Register(clientID)
	cs.StartTimers()

	// The pipeline slot must be gone before the client record is, so a
	// frame finishing after disconnect finds no destination to send to.
	// Both teardowns carry this connection's identity: a displaced
	// connection's defer must not remove its successor's registrations.
	defer func() {
		h.dispatcher.Unregister(clientID, reg)
		h.manager.RemoveClient(r.Context(), cs)
		cs.Close(websocket.CloseNormalClosure, "Connection ended")
		h.log.Infof("Client %s disconnected", clientID)
	}()

	cs.SafeWriteJSON(clientIDMessage{ClientID: clientID})
	cs.SafeWriteJSON(connectionStatus{
		Event:       "connection_status",
		Status:      "connected",
		ModelLoaded: h.modelReady(),
	})

	h.log.Infof("Client %s connected from %s", clientID, r.RemoteAddr)
	h.readLoop(cs)
}

// readLoop pumps frames into the dispatcher. OnFrame is O(1), so the
// loop keeps up with the camera even while inference is busy.
func (h *Handler) readLoop(cs *ClientSession) {
	for {
		messageType, data, err := cs.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warnf("Unexpected close from %s: %v", cs.ID, err)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			metrics.FramesReceived.Inc()
			cs.RefreshReadDeadline()
			cs.UpdateActivity()
			h.manager.RefreshSessionTTL(cs.ctx, cs.ID)
			h.dispatcher.OnFrame(cs.ID, data)
		}
	}
}

// resolveClientID derives the client's identity. With auth enabled the
// JWT subject is the ID; otherwise a fresh UUID is assigned.
func (h *Handler) resolveClientID(r *http.Request) (string, error) {
	if !h.cfg.Auth.Enabled {
		return uuid.New().String(), nil
	}

	tokenString := r.URL.Query().Get(h.cfg.Auth.TokenQueryParam)
	if tokenString == "" {
		metrics.AuthFailures.WithLabelValues("missing_token").Inc()
		return "", errMissingToken
	}

	claims, err := h.validator.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return uuid.New().String(), nil
}
