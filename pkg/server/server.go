// Package server exposes the agent and the plain chat passthrough over HTTP
// and WebSocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"toolchat/pkg/agent"
	"toolchat/pkg/config"
	"toolchat/pkg/llm"
	"toolchat/pkg/monitor"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/cors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownTimeout = 10 * time.Second

// AgentRunner runs one agent turn. *agent.Runner implements it.
type AgentRunner interface {
	Run(ctx context.Context, req agent.Request, sink agent.Sink) *agent.Run
}

// Backend serves model listing and plain chat. *llm.Router implements it.
type Backend interface {
	llm.ModelLister
	Passthrough(ctx context.Context, req llm.PassthroughRequest, emit func([]byte) error) error
}

// Server is the HTTP surface. Build it with NewBuilder.
type Server struct {
	cfg          config.ServerConfig
	defaultModel string
	system       func() *config.SystemConfig
	runner       AgentRunner
	backend      Backend
	monitor      monitor.Monitor
	upgrader     websocket.Upgrader
	cors         *cors.Cors
	httpServer   *http.Server
}

// Handler returns the routed handler wrapped in CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/agent/chat", s.handleAgentChat)
	mux.HandleFunc("GET /api/agent/ws", s.handleAgentWS)
	return s.cors.Handler(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// Requests still running when the grace period ends are cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.cfg.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	cancelBase()
	if s.monitor != nil {
		if stopErr := s.monitor.Stop(); stopErr != nil {
			slog.Warn("Failed to stop monitor", "error", stopErr)
		}
	}
	return err
}

func newCORS(origins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
}

// checkOrigin applies the CORS origin list to WebSocket upgrades and lets
// same-host tools without an Origin header through.
func (s *Server) checkOrigin(r *http.Request) bool {
	return r.Header.Get("Origin") == "" || s.cors.OriginAllowed(r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
