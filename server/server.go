// Package server hosts the HTTP surface: the websocket endpoint and a
// health check for load balancers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nee-hit476/Jenji/config"
	"github.com/nee-hit476/Jenji/websocket"
)

const version = "1.0.0"

// Server bundles the HTTP server with the websocket client manager so
// shutdown can close live connections before the listener.
type Server struct {
	httpServer *http.Server
	manager    *websocket.ClientManager
	modelReady func() bool
	log        *logrus.Logger
}

// New builds the server and its routes.
func New(cfg *config.ServerConfig, handler *websocket.Handler, manager *websocket.ClientManager, modelReady func() bool, log *logrus.Logger) *Server {
	s := &Server{
		manager:    manager,
		modelReady: modelReady,
		log:        log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", handler.HandleWebSocket)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
	return s
}

// Start blocks serving HTTP until the listener is closed.
func (s *Server) Start() error {
	s.log.Infof("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown closes client connections first so browsers see a clean
// close frame, then stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")
	s.manager.CloseAllConnections("Server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintln(w, "Jenji detection gateway. Connect via /ws.")
}

type healthResponse struct {
	Status         string `json:"status"`
	ModelLoaded    bool   `json:"model_loaded"`
	ActiveSessions int    `json:"active_sessions"`
	Version        string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:         "healthy",
		ModelLoaded:    s.modelReady(),
		ActiveSessions: s.manager.Count(),
		Version:        version,
	})
}
