package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minsuk-ha/sentinel/internal/brokerage"
	"github.com/minsuk-ha/sentinel/internal/classify"
	"github.com/minsuk-ha/sentinel/internal/config"
	"github.com/minsuk-ha/sentinel/internal/logger"
	"github.com/minsuk-ha/sentinel/internal/models"
	"github.com/minsuk-ha/sentinel/internal/quote"
	"github.com/minsuk-ha/sentinel/internal/session"
	"github.com/minsuk-ha/sentinel/internal/store"
	"github.com/minsuk-ha/sentinel/internal/watch"
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

	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to open storage: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	hours, err := cfg.Session.Hours()
	if err != nil {
		logger.Fatal("Invalid session hours: %v", err)
	}
	calendar, err := session.NewCalendar(cfg.Session.Timezone, hours, cfg.Session.Holidays)
	if err != nil {
		logger.Fatal("Failed to build session calendar: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tokens *brokerage.TokenManager
	var futures watch.FuturesProvider
	if cfg.Brokerage.Enabled {
		auth := brokerage.NewRESTAuthenticator(
			cfg.Brokerage.BaseURL,
			cfg.Brokerage.AppKey,
			cfg.Brokerage.AppSecret,
			cfg.Brokerage.Timeout,
		)
		tokens = brokerage.NewTokenManager(auth, cfg.Brokerage.RefreshSkew)
		tokens.StartAutoRefresh(ctx)
		futures = brokerage.NewFuturesClient(
			cfg.Brokerage.BaseURL,
			cfg.Brokerage.AppKey,
			cfg.Brokerage.AppSecret,
			cfg.Brokerage.Timeout,
			tokens,
		)
		logger.Info("Brokerage integration enabled")
	} else {
		logger.Debug("Brokerage integration disabled")
	}

	quotes := quote.NewClient(cfg.Quotes.BaseURL, cfg.Quotes.Timeout, quote.ClientConfig{
		MaxRetries:     cfg.Quotes.MaxRetries,
		RetryDelayBase: cfg.Quotes.RetryDelayBase,
	})
	sender := watch.NewClient(cfg.Watch.GatewayURL, cfg.Watch.GatewayKey, 15*time.Second)

	classifier := classify.New(map[models.Category]classify.Thresholds{
		models.CategoryIndex:      {LV1: cfg.Levels.Index.LV1, LV2: cfg.Levels.Index.LV2, LV3: cfg.Levels.Index.LV3},
		models.CategoryVolatility: {LV1: cfg.Levels.Volatility.LV1, LV2: cfg.Levels.Volatility.LV2, LV3: cfg.Levels.Volatility.LV3},
		models.CategoryFutures:    {LV1: cfg.Levels.Futures.LV1, LV2: cfg.Levels.Futures.LV2, LV3: cfg.Levels.Futures.LV3},
	}, cfg.Levels.FilterThreshold)

	engine := watch.NewEngine(
		quotes,
		futures,
		sender,
		db,
		classifier,
		calendar,
		cfg.Instruments(),
		cfg.Companions(),
		watch.Options{
			DedupWindow:   cfg.Watch.DedupWindow,
			Freshness:     cfg.Watch.Freshness,
			ReentryAlerts: cfg.Watch.ReentryAlerts,
		},
	)
	if err := engine.LoadStates(); err != nil {
		logger.Fatal("Failed to restore instrument state: %v", err)
	}

	if cfg.Watch.HealthAddr != "" {
		var th watch.TokenHealth
		if tokens != nil {
			th = tokens
		}
		go watch.NewHealthServer(engine, th).Serve(cfg.Watch.HealthAddr)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	logger.Info("Starting watch service (interval: %v, dedup window: %v, instruments: %d)",
		cfg.Watch.PollInterval, cfg.Watch.DedupWindow, len(cfg.Watch.Instruments))

	ticker := time.NewTicker(cfg.Watch.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Watch cycle failed: %v", err)
			return
		}
		if consecutiveFailures > 0 {
			logger.Info("Watch cycle recovered after %d consecutive failure(s)", consecutiveFailures)
		}
		consecutiveFailures = 0
	}

	logger.Debug("Running initial watch cycle")
	_, err = engine.RunCycle(ctx)
	handleCycleResult(err)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return
		case <-ticker.C:
			logger.Debug("Starting scheduled watch cycle")
			_, err := engine.RunCycle(ctx)
			handleCycleResult(err)
		}
	}
}
