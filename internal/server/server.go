// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatsync/internal/api"
)

const (
	// DefaultAddr is where `chatsync serve` listens.
	DefaultAddr = "127.0.0.1:8790"

	// MaxRequestBodySize bounds request bodies.
	MaxRequestBodySize = 64 * 1024

	maxListLimit = 1000
)

// Server is the development session API.
type Server struct {
	addr   string
	router *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	closed bool

	store   *Store
	auth    *AuthConfig
	limiter *RateLimiter
	faults  *Faults
	log     zerolog.Logger
}

// NewServer creates a server; an empty addr selects DefaultAddr.
func NewServer(addr string, log zerolog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:    addr,
		router:  http.NewServeMux(),
		store:   NewStore(),
		auth:    DefaultAuthConfig(),
		limiter: DefaultRateLimiter(),
		faults:  &Faults{},
		log:     log,
	}
	s.setupRoutes()
	return s
}

// WithAuth sets the token mapping.
func (s *Server) WithAuth(config *AuthConfig) *Server {
	s.auth = config
	return s
}

// WithRateLimiter replaces the per-client limiter.
func (s *Server) WithRateLimiter(rl *RateLimiter) *Server {
	s.limiter = rl
	return s
}

// Store exposes the backing store for seeding.
func (s *Server) Store() *Store { return s.store }

// Faults exposes failure injection.
func (s *Server) Faults() *Faults { return s.faults }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Handler returns the routed handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.log),
		LoggingMiddleware(s.log),
		RateLimitMiddleware(s.limiter, s.log),
		AuthMiddleware(s.auth, s.log),
		FaultMiddleware(s.faults),
	)(s.router)
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/sessions", s.handleGetOrCreate)
	s.router.HandleFunc("GET /api/sessions", s.handleList)
	s.router.HandleFunc("GET /api/sessions/{id}/messages", s.handleMessages)
	s.router.HandleFunc("POST /api/sessions/{id}/messages", s.handleAppend)
	s.router.HandleFunc("DELETE /api/sessions/{id}", s.handleDelete)
	s.router.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleGetOrCreate(w http.ResponseWriter, r *http.Request) {
	info := s.store.GetOrCreate(UserFrom(r.Context()))
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit < 1 || limit > maxListLimit {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.store.List(UserFrom(r.Context()), limit),
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be positive")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must not be negative")
		return
	}

	msgs, err := s.store.Messages(UserFrom(r.Context()), r.PathValue("id"), limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type appendRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	switch req.Role {
	case "user", "assistant", "system":
	default:
		writeError(w, http.StatusBadRequest, "invalid_role", "role must be user, assistant or system")
		return
	}

	msg, err := s.store.Append(UserFrom(r.Context()), r.PathValue("id"), req.Role, req.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(UserFrom(r.Context()), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.store.Len()})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.server = srv
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("session API listening")
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server. A later Serve returns at once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.log.Info().Msg("session API shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, api.ErrorBody{Error: api.ErrorDetail{Code: code, Message: message}})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", "request failed")
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
