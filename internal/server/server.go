// Package server wires configuration, logging, metrics, the store, the
// subscription hub and the JWT verifier into one HTTP listener that
// upgrades /ws connections to sessions, grounded on
// go-server/internal/server/server.go's mux/health/shutdown shape.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"odin-exchange/internal/auth"
	"odin-exchange/internal/config"
	"odin-exchange/internal/db"
	"odin-exchange/internal/hub"
	"odin-exchange/internal/metrics"
	"odin-exchange/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	cfg      config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	store    db.DB
	hub      *hub.SubscriptionHub
	verifier auth.Verifier

	adminInitialBalance decimal.Decimal

	httpServer *http.Server

	// ctx is the server-lifetime context, set once at the top of Run.
	// Sessions must derive from it rather than from a request's context:
	// net/http cancels a request's context as soon as its handler
	// returns, including for a hijacked/upgraded connection, so binding
	// a session to r.Context() would tear it down before the client
	// ever gets to authenticate.
	ctx context.Context
}

func New(cfg config.Config, logger *zap.Logger, m *metrics.Metrics, store db.DB, h *hub.SubscriptionHub, verifier auth.Verifier) (*Server, error) {
	adminInitialBalance, err := decimal.NewFromString(cfg.Auth.AdminInitialBalance)
	if err != nil {
		return nil, fmt.Errorf("invalid auth.admin_initial_balance %q: %w", cfg.Auth.AdminInitialBalance, err)
	}

	s := &Server{
		cfg:                  cfg,
		logger:               logger,
		metrics:              m,
		store:                store,
		hub:                  h,
		verifier:             verifier,
		adminInitialBalance:  adminInitialBalance,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.Path, s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Endpoint, promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ConnectionsActive.Inc()

	sess := session.New(conn, s.verifier, s.store, s.hub, s.logger, s.adminInitialBalance,
		s.cfg.Server.RateLimitPerSec, s.cfg.Server.RateLimitBurst)

	// Derived from the server's lifetime context, not r.Context(): the
	// latter is cancelled by net/http the moment this handler returns,
	// which is immediately after the goroutine below is launched.
	sessionCtx, cancel := context.WithCancel(s.ctx)

	go func() {
		defer cancel()
		defer s.metrics.ConnectionsActive.Dec()
		if err := sess.Run(sessionCtx); err != nil {
			s.logger.Info("session ended", zap.Error(err))
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":     "healthy",
		"timestamp":  time.Now().Unix(),
		"goroutines": runtime.NumGoroutine(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

// Run starts the HTTP listener and blocks until ctx is cancelled, then
// drains in-flight requests before returning.
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
