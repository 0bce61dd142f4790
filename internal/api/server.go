package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/kwinidle/internal/config"
	"github.com/bryanchriswhite/kwinidle/internal/forwarder"
	"github.com/bryanchriswhite/kwinidle/internal/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// StatsProvider is the part of the forwarder the status API reads
type StatsProvider interface {
	Stats() forwarder.Snapshot
	Subscribe() chan forwarder.Interaction
	Unsubscribe(ch chan forwarder.Interaction)
}

// Server represents the local status API server
type Server struct {
	router    *mux.Router
	forwarder StatsProvider
	config    *config.Config
	source    string
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	http     *http.Server
	shutdown bool
}

// NewServer creates a new API server
func NewServer(fwd StatsProvider, cfg *config.Config, source string) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		forwarder: fwd,
		config:    cfg,
		source:    source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return r.Header.Get("Origin") == ""
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/config", s.handleConfig).Methods("GET")
	api.HandleFunc("/interactions", s.handleInteractions)
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on localhost:port until Shutdown is called.
// It returns nil at once if Shutdown already ran.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.http = srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().Str("addr", addr).Msg("Status API listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server. A Start that has not begun listening yet will not.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	srv := s.http
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status": "ok",
		"source": s.source,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.forwarder.Stats())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.config)
}

// handleInteractions streams forwarded interactions over a websocket
func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.forwarder.Subscribe()
	defer s.forwarder.Unsubscribe(updates)

	// Reader detects the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case it, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(it); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}
