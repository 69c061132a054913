// Command server runs the exchange's WebSocket session orchestrator,
// grounded on ws/main.go's config-load/log/signal-wait shape.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"odin-exchange/internal/auth"
	"odin-exchange/internal/config"
	"odin-exchange/internal/db"
	"odin-exchange/internal/hub"
	"odin-exchange/internal/logging"
	"odin-exchange/internal/metrics"
	"odin-exchange/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("load config: " + err.Error())
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic("build logger: " + err.Error())
	}
	defer logger.Sync()

	m := metrics.New()
	sampleDone := make(chan struct{})
	go m.RunSampler(sampleDone)
	defer close(sampleDone)

	store := db.NewMemoryDB()
	verifier := auth.NewJWTVerifier(cfg.Auth.SecretKey)

	var subscriptionHub *hub.SubscriptionHub
	if cfg.NATS.URL != "" {
		subscriptionHub, err = hub.NewHubWithNats(logger, cfg.NATS.URL)
		if err != nil {
			logger.Fatal("connect nats relay", zap.Error(err))
		}
		m.NATSConnected.Set(1)
	} else {
		subscriptionHub = hub.NewHub(logger, nil)
	}
	defer subscriptionHub.Close()

	srv, err := server.New(cfg, logger, m, store, subscriptionHub, verifier)
	if err != nil {
		logger.Fatal("build server", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
	logger.Info("server stopped")
}
