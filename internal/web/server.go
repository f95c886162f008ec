// Package web serves the local dashboard: a JSON status API, a
// websocket event stream mirroring the bus, and web push delivery for
// browsers that subscribed.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"log/slog"

	"github.com/workdeck/workdeck/internal/attention"
	"github.com/workdeck/workdeck/internal/github"
	"github.com/workdeck/workdeck/internal/logging"
	"github.com/workdeck/workdeck/internal/workspace"
)

var log = logging.ForComponent(logging.CompWeb)

// WorkspaceSource provides the current workspace snapshot.
type WorkspaceSource interface {
	Snapshot() workspace.File
}

// AttentionSource provides the derived attention view.
type AttentionSource interface {
	Snapshot() map[string][]attention.Entry
}

// Deps are the read-side data sources the server exposes.
type Deps struct {
	Workspaces WorkspaceSource
	Attention  AttentionSource

	// Statuses returns the cached PR/CI state per project path.
	Statuses func() map[string]github.ProjectStatus

	// Push is optional; nil disables the push endpoints.
	Push *PushService
}

// Server is the dashboard HTTP server.
type Server struct {
	addr       string
	deps       Deps
	hub        *Hub
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewServer builds the server and its routes. The hub must be attached
// to the bus by the caller.
func NewServer(addr string, deps Deps, hub *Hub) *Server {
	s := &Server{addr: addr, deps: deps, hub: hub}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/push/config", s.handlePushConfig)
	mux.HandleFunc("/api/push/subscribe", s.handlePushSubscribe)
	mux.HandleFunc("/api/push/unsubscribe", s.handlePushUnsubscribe)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves until shutdown or error. Returns nil on graceful shutdown.
func (s *Server) Start() error {
	log.Info("web_listening", slog.String("addr", s.addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, force-closing lingering websocket
// connections when the graceful path times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		s.cancelBase()
	}
	if s.hub != nil {
		s.hub.Close()
	}

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

// statusResponse is the /api/status payload.
type statusResponse struct {
	Workspaces []workspace.Workspace           `json:"workspaces"`
	SelectedID string                          `json:"selectedId,omitempty"`
	Attention  map[string][]attention.Entry    `json:"attention"`
	Statuses   map[string]github.ProjectStatus `json:"statuses"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Attention: map[string][]attention.Entry{},
		Statuses:  map[string]github.ProjectStatus{},
	}
	if s.deps.Workspaces != nil {
		file := s.deps.Workspaces.Snapshot()
		resp.Workspaces = file.Workspaces
		resp.SelectedID = file.SelectedID
	}
	if resp.Workspaces == nil {
		resp.Workspaces = []workspace.Workspace{}
	}
	if s.deps.Attention != nil {
		resp.Attention = s.deps.Attention.Snapshot()
	}
	if s.deps.Statuses != nil {
		resp.Statuses = s.deps.Statuses()
	}
	writeJSON(w, resp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.hub == nil {
		http.Error(w, "event stream disabled", http.StatusServiceUnavailable)
		return
	}
	s.hub.ServeConn(w, r)
}

func (s *Server) handlePushConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Push == nil {
		http.Error(w, "push disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"publicKey": s.deps.Push.PublicKey()})
}

func (s *Server) handlePushSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Push == nil {
		http.Error(w, "push disabled", http.StatusServiceUnavailable)
		return
	}
	var sub Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "invalid subscription payload", http.StatusBadRequest)
		return
	}
	if err := s.deps.Push.Upsert(sub); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handlePushUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Push == nil {
		http.Error(w, "push disabled", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		http.Error(w, "endpoint is required", http.StatusBadRequest)
		return
	}
	if err := s.deps.Push.Remove(req.Endpoint); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
