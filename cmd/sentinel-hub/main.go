package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minsuk-ha/sentinel/internal/config"
	"github.com/minsuk-ha/sentinel/internal/hub"
	"github.com/minsuk-ha/sentinel/internal/logger"
	"github.com/minsuk-ha/sentinel/internal/push"
	"github.com/minsuk-ha/sentinel/internal/store"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	if cfg.Hub.ConnectorSecret == "" {
		logger.Warn("hub.connector_secret is empty; ingest signatures are trivially forgeable")
	}

	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to open storage: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	var pusher hub.Pusher
	if cfg.Telegram.Enabled {
		dispatcher, err := push.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID, push.Config{
			MaxAttempts:    cfg.Telegram.MaxAttempts,
			RetryDelayBase: cfg.Telegram.RetryDelayBase,
			RatePerSec:     cfg.Telegram.RatePerSec,
		})
		if err != nil {
			logger.Fatal("Failed to initialize push dispatcher: %v", err)
		}
		pusher = dispatcher
		logger.Info("Push dispatcher initialized")
	} else {
		logger.Debug("Push delivery disabled; jobs are recorded only")
	}

	gateway := hub.NewGateway(
		cfg.Hub.GatewayKey,
		cfg.Hub.ConnectorSecret,
		cfg.Hub.RelayURL,
		cfg.Hub.BaseURL,
	)
	relay := hub.NewRelay(cfg.Hub.ConnectorSecret, db, pusher, cfg.Hub.BaseURL)
	server := &http.Server{
		Addr:              cfg.Hub.Addr,
		Handler:           hub.NewServer(gateway, relay, db).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, draining connections...")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed: %v", err)
		}
	}()

	logger.Info("Hub listening on %s", cfg.Hub.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Hub server failed: %v", err)
	}
	logger.Info("Service stopped")
}
