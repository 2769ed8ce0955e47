package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/engine"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 64 << 10

// Chatter runs one chat turn. *engine.Service is the production implementation.
type Chatter interface {
	Chat(ctx context.Context, req engine.Request) (engine.Reply, error)
}

// ReadyFunc reports whether the backing store is reachable.
type ReadyFunc func(ctx context.Context) error

// Server exposes the chat endpoint plus health, readiness and metrics.
type Server struct {
	addr      string
	chat      Chatter
	ready     ReadyFunc
	mux       *http.ServeMux
	server    *http.Server
	startedAt time.Time
	now       func() time.Time
}

type errorResponse struct {
	Response string           `json:"response"`
	Error    string           `json:"error,omitempty"`
	Metadata *engine.Metadata `json:"metadata,omitempty"`
}

func NewServer(addr string, chat Chatter, ready ReadyFunc) *Server {
	mux := http.NewServeMux()
	s := &Server{
		addr:      addr,
		chat:      chat,
		ready:     ready,
		mux:       mux,
		startedAt: time.Now(),
		now:       time.Now,
	}
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	return s
}

// ServeHTTP lets tests drive the routes without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.addr, err)
	}
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("gateway", "HTTP server error", map[string]any{"error": err.Error()})
		}
	}()
	logger.InfoCF("gateway", "HTTP server listening", map[string]any{"addr": ln.Addr().String()})
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logger.WarnCF("gateway", "HTTP server shutdown error", map[string]any{"error": err.Error()})
	}
	s.server = nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
			Response: MethodNotAllowedReply,
			Error:    "method not allowed",
		})
		return
	}

	var req engine.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Response: InvalidReply,
			Error:    "invalid request body",
		})
		return
	}

	reply, err := s.chat.Chat(r.Context(), req)
	if err != nil {
		if engine.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Response: InvalidReply,
				Error:    err.Error(),
			})
			return
		}
		logger.ErrorCF("gateway", "Chat turn failed", map[string]any{
			"user_id": req.UserID,
			"error":   err.Error(),
		})
		md := engine.ErrorMetadata(engine.ConversationID(req.UserID, req.ChatID), s.now())
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Response: FailureReply,
			Metadata: &md,
		})
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
