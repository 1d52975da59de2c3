// Package main provides the entry point for the Roam backend server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/roamwifi/roam-backend/internal/api"
	"github.com/roamwifi/roam-backend/internal/config"
	"github.com/roamwifi/roam-backend/internal/ledger"
	"github.com/roamwifi/roam-backend/internal/liveness"
	"github.com/roamwifi/roam-backend/internal/payments"
	"github.com/roamwifi/roam-backend/internal/sessioncache"
	"github.com/roamwifi/roam-backend/internal/settlement"
	"github.com/roamwifi/roam-backend/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.Env == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Durable ledger
	store, err := ledger.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()
	logger.Info("database ready", zap.String("path", cfg.DatabasePath))

	// Ephemeral session cache: Redis when configured, in-process otherwise.
	ctx := context.Background()
	var cache sessioncache.Store
	if cfg.RedisURL != "" {
		client, err := sessioncache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer client.Close()
		cache = sessioncache.NewRedisStore(client)
		logger.Info("session cache: redis")
	} else {
		memory := sessioncache.NewMemoryStore()
		defer memory.Stop()
		cache = memory
		logger.Warn("session cache: in-memory, sessions do not survive restarts")
	}

	gateway := payments.NewStripeGateway(cfg.StripeSecret, cfg.StripeWebhookSecret, logger.Named("stripe"))
	orchestrator := settlement.NewOrchestrator(store, cache, gateway, token.NewIssuer(), logger.Named("settlement"))
	tracker := liveness.NewTracker(cfg.HeartbeatStaleAfter, logger.Named("liveness"))

	handler := api.NewHandler(orchestrator, tracker, store, gateway, logger.Named("api"))
	router := api.NewRouter(handler)

	// Reconcile the durable online flag in the background.
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.StaleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := tracker.SweepStale(sweepCtx, store, time.Now().UTC()); err != nil {
					logger.Error("stale sweep failed", zap.Error(err))
				}
			}
		}
	}()

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", httpServer.Addr), zap.String("env", cfg.Env))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sweepCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
