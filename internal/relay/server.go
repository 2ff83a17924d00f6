// Package relay implements the dsync relay server: a small HTTP service that
// stores the authoritative copy of every document and pushes changes to
// connected devices over WebSockets. Devices authenticate with a pre-shared
// key and hold a JWT for the session.
package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"dsync-go/internal/cloud"
)

const (
	defaultTokenExpiry = 24 * time.Hour
	shutdownTimeout    = 5 * time.Second

	loginRPS   = 5
	loginBurst = 10
)

// Config holds relay server configuration.
type Config struct {
	// Addr to listen on, e.g. ":8484". Port 0 picks a free port.
	Addr string

	// JWTSecret signs session tokens.
	JWTSecret string

	// TokenExpiry bounds session lifetime (default: 24h).
	TokenExpiry time.Duration

	// DeviceKeys maps device IDs to their pre-shared keys. Only listed
	// devices can log in.
	DeviceKeys map[string]string

	// Logger for server activity (default: slog.Default()).
	Logger *slog.Logger
}

// Server is the relay HTTP/WebSocket server. Documents live in memory: the
// relay is a rendezvous point, not a system of record — every device keeps a
// full local copy and re-uploads on its next sweep after a relay restart.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	hub      *hub
	listener net.Listener
	server   *http.Server

	mu   sync.RWMutex
	docs map[string]*cloud.WireDocument
}

// NewServer creates a relay server from config.
func NewServer(cfg Config) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if len(cfg.DeviceKeys) == 0 {
		return nil, fmt.Errorf("at least one device key is required")
	}
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = defaultTokenExpiry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		hub:    newHub(cfg.Logger),
		docs:   make(map[string]*cloud.WireDocument),
	}, nil
}

// Start begins listening and serving. Non-blocking; call Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	s.hub.start()
	s.server = &http.Server{
		Handler:     s.routes(),
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("relay server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("relay server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server and closes all client connections.
func (s *Server) Stop() error {
	s.hub.stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.logger.Info("relay server stopped")
	return nil
}

// Addr returns the bound listen address. Valid only after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(loginRPS, loginBurst))
		r.Post("/auth/login", s.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(jwtAuth(s.cfg.JWTSecret))
		r.Get("/documents", s.handleList)
		r.Put("/documents/{id}", s.handleUpsert)
		r.Get("/documents/{id}", s.handleGet)
		r.Delete("/documents/{id}", s.handleDelete)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
		Key      string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed login request")
		return
	}

	want, ok := s.cfg.DeviceKeys[req.DeviceID]
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(req.Key)) != 1 {
		s.logger.Warn("login rejected", "device", req.DeviceID)
		writeJSONError(w, http.StatusUnauthorized, "unknown device or bad key")
		return
	}

	token, err := GenerateToken(req.DeviceID, s.cfg.JWTSecret, s.cfg.TokenExpiry)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "token generation failed")
		return
	}

	s.logger.Info("device logged in", "device", req.DeviceID)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var wire cloud.WireDocument
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed document")
		return
	}
	if wire.ID != id {
		writeJSONError(w, http.StatusBadRequest, "document id does not match path")
		return
	}
	if wire.ContentHash == "" {
		writeJSONError(w, http.StatusBadRequest, "missing content hash")
		return
	}

	s.mu.Lock()
	s.docs[id] = &wire
	s.mu.Unlock()

	device, _ := deviceIDFromContext(r.Context())
	s.logger.Info("document stored", "doc", id, "device", device, "bytes", wire.SizeBytes)

	// Push to everyone; devices skip their own echoes by origin ID.
	if data, err := json.Marshal(&wire); err == nil {
		s.hub.send(data)
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	wire, ok := s.docs[id]
	s.mu.RUnlock()

	if !ok {
		writeJSONError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, wire)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	metas := make([]cloud.WireMeta, 0, len(s.docs))
	for _, wire := range s.docs {
		metas = append(metas, wire.Meta())
	}
	s.mu.RUnlock()

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()

	device, _ := deviceIDFromContext(r.Context())
	s.logger.Info("document deleted", "doc", id, "device", device)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	device, _ := deviceIDFromContext(r.Context())
	n := s.hub.add(conn)
	s.logger.Info("device connected", "device", device, "total", n)

	go s.hub.readLoop(conn)
}

// Len returns the number of stored documents.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
