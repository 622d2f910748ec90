// Package adminhttp implements the dispatch core's read-only admin
// surface: health, Prometheus metrics, pool inspection, and a live
// websocket feed of gate outcomes.
package adminhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/gatecore/internal/gate"
	"github.com/nugget/gatecore/internal/reflex"
	"github.com/nugget/gatecore/internal/session"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the admin HTTP server.
type Server struct {
	address string
	port    int
	gate    *gate.Gate
	router  *session.Router
	reflex  *reflex.Controller
	metrics http.Handler
	logger  *slog.Logger
	server  *http.Server

	feed *feed
}

// New creates a Server. metricsHandler is typically promhttp.HandlerFor
// wrapping the prometheus.Registerer the metrics.Registry was built
// against.
func New(address string, port int, g *gate.Gate, router *session.Router, rc *reflex.Controller, metricsHandler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	return &Server{
		address: address,
		port:    port,
		gate:    g,
		router:  router,
		reflex:  rc,
		metrics: metricsHandler,
		logger:  logger,
		feed:    newFeed(logger),
	}
}

// Feed returns the outcome broadcaster so the orchestrator can push
// GateOutcome summaries as they happen.
func (s *Server) Feed() *feed { return s.feed }

// Start binds the listener and serves until ctx is cancelled (then
// shuts the server down with a 2s grace period) or the listener fails.
// It blocks.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics)
	mux.HandleFunc("GET /pools/sink", s.handlePool(func() *gate.Pool { return s.gate.SinkPool }))
	mux.HandleFunc("GET /pools/drop", s.handlePool(func() *gate.Pool { return s.gate.DropPool }))
	mux.HandleFunc("GET /pools/tool", s.handlePool(func() *gate.Pool { return s.gate.ToolPool }))
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /overrides", s.handleOverrides)
	mux.HandleFunc("GET /events", s.handleEvents)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("starting admin HTTP server", "address", s.address, "port", s.port)
	errCh := make(chan error, 1)
	go func() { errCh <- s.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("admin request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handlePool(poolFn func() *gate.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pool := poolFn()
		if pool == nil {
			http.Error(w, "pool not available", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, pool.Snapshot(), s.logger)
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		writeJSON(w, []string{}, s.logger)
		return
	}
	writeJSON(w, s.router.ListActiveSessions(), s.logger)
}

func (s *Server) handleOverrides(w http.ResponseWriter, r *http.Request) {
	if s.reflex == nil {
		writeJSON(w, []string{}, s.logger)
		return
	}
	writeJSON(w, s.reflex.ActiveKeys(), s.logger)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Admin surface is trusted-network only; no origin restriction needed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("admin websocket upgrade failed", "error", err)
		return
	}
	s.feed.serve(r.Context(), conn)
}
