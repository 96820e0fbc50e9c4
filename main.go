package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"trigger-core/internal/api"
	"trigger-core/internal/engine"
	"trigger-core/internal/events"
	"trigger-core/internal/executor"
	"trigger-core/internal/monitor"
	"trigger-core/internal/reconciler"
	"trigger-core/internal/trigger"
	"trigger-core/pkg/config"
	"trigger-core/pkg/db"
	"trigger-core/pkg/feed"
	"trigger-core/pkg/gateway"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting trigger engine on port %s (db=%s)", cfg.Port, cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()
	defer bus.Close()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	store := trigger.NewStore()

	gw := gateway.New(gateway.Config{
		BaseURL:   cfg.GatewayURL,
		APIKey:    cfg.GatewayAPIKey,
		Timeout:   cfg.GatewayTimeout,
		RateLimit: rate.Limit(cfg.GatewayRateLimit),
		RateBurst: cfg.GatewayRateBurst,
	})

	metrics := monitor.NewSystemMetrics()

	exec := executor.New(store, database, gw, bus, cfg.ExecutorWorkers)
	exec.MaxRetries = cfg.OrderMaxRetries
	exec.RetryBaseDelay = cfg.OrderRetryBaseDelay
	exec.Metrics = metrics

	feedMgr := feed.NewManager(feed.Config{
		URL:                  cfg.FeedURL,
		APIKey:               cfg.FeedAPIKey,
		AccessToken:          cfg.FeedAccessToken,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
		TickBuffer:           cfg.TickBuffer,
	}, store.SubscribedInstruments)
	feedMgr.OnStateChange(func(s feed.State) {
		bus.Publish(events.EventFeedState, s)
	})

	rec := reconciler.New(store, database, bus, feedMgr)

	// Seed the in-memory store before the feed ever connects, so the
	// first resubscription covers the whole instrument set.
	if err := rec.Load(ctx); err != nil {
		log.Fatalf("trigger load failed: %v", err)
	}
	rec.Start(ctx)

	mon := &monitor.Monitor{Bus: bus, Metrics: metrics, AlertFn: func(msg string) {
		_ = monitor.LogSink{}.Send(msg)
	}}
	mon.Start(ctx)

	eng := engine.New(store, exec, bus)
	go eng.Run(ctx, feedMgr.Ticks())
	feedMgr.Start(ctx)

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "v1.0-dev"
	}
	server := api.NewServer(database, bus, store, eng, feedMgr, metrics, api.SystemMeta{
		Version:    version,
		FeedURL:    cfg.FeedURL,
		GatewayURL: cfg.GatewayURL,
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()
	log.Printf("api listening on :%s", cfg.Port)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	feedMgr.Stop()
	cancel()
	exec.WaitAll()
	exec.Close()
	log.Println("trigger engine stopped")
}
