// Package httpserver exposes the assistant over HTTP: a JSON API mirroring
// the chat operations, the payment webhook, health and metrics.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"okanassist/internal/assist"
	"okanassist/internal/metrics"
	"okanassist/internal/repo"
)

// Handlers groups optional HTTP handlers to mount.
type Handlers struct {
	PaymentWebhook http.Handler
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	engine     *assist.Engine
	store      repo.Store
}

// New creates a new HTTP server listening on addr.
func New(addr string, engine *assist.Engine, store repo.Store, logger *slog.Logger, m *metrics.Metrics, handlers Handlers) *Server {
	s := &Server{
		logger:  logger.With("component", "http"),
		metrics: m,
		engine:  engine,
		store:   store,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/start", s.handleStart)
	mux.HandleFunc("POST /api/v1/register", s.handleRegister)
	mux.HandleFunc("POST /api/v1/check-auth", s.handleCheckAuth)
	mux.HandleFunc("POST /api/v1/route-message", s.handleRouteMessage)
	mux.HandleFunc("POST /api/v1/process-receipt", s.handleProcessReceipt)
	mux.HandleFunc("POST /api/v1/process-bank-statement", s.handleProcessStatement)
	mux.HandleFunc("POST /api/v1/get-transaction-summary", s.handleSummary)
	mux.HandleFunc("POST /api/v1/get-reminders", s.handleReminders)
	mux.HandleFunc("POST /api/v1/complete-reminder", s.handleCompleteReminder)
	mux.HandleFunc("POST /api/v1/upgrade", s.handleUpgrade)
	mux.HandleFunc("GET /api/v1/credits/{user_id}", s.handleCredits)
	mux.HandleFunc("GET /api/v1/help", s.handleHelp)

	if handlers.PaymentWebhook != nil {
		mux.Handle("POST /webhook/paypal", handlers.PaymentWebhook)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeStatusJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func jsonDecode(r *http.Request, dest any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dest)
}

func writeJSON(w http.ResponseWriter, data any) {
	writeStatusJSON(w, http.StatusOK, data)
}

func writeStatusJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}
