package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"mt5relay/internal/api"
	"mt5relay/internal/events"
	"mt5relay/internal/monitor"
	"mt5relay/internal/relay"
	"mt5relay/internal/scheduler"
	sig "mt5relay/internal/signal"
	"mt5relay/pkg/config"
	"mt5relay/pkg/crypto"
	"mt5relay/pkg/db"
	"mt5relay/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logging.Setup(cfg.LogPath, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	log.Printf("[main] starting relay on port %s", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}
	if cfg.CredentialKey != "" {
		key, err := crypto.KeyFromString(cfg.CredentialKey)
		if err != nil {
			log.Fatalf("credential key: %v", err)
		}
		enc, err := crypto.NewEncryptor(key)
		if err != nil {
			log.Fatalf("credential key: %v", err)
		}
		database.SetEncryptor(enc)
		log.Println("[main] broker passwords encrypted at rest")
	}

	bus := events.NewBus()
	metrics := monitor.NewMetrics()

	params, err := sig.LoadParams(cfg.StrategiesPath)
	if err != nil {
		log.Fatalf("strategy params load failed: %v", err)
	}

	relaySvc := relay.NewService(database, bus, metrics, cfg.CandleTimeframe, cfg.CandleCount)
	sched := scheduler.NewManager(database, relaySvc, bus, metrics, params, cfg.DefaultPollInterval, cfg.AgentTimeout)

	go sched.RunReconciler(ctx, cfg.ReconInterval)

	server := api.NewServer(bus, database, relaySvc, sched, metrics, cfg.JWTSecret, cfg.AgentTimeout)
	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[main] shutting down")

	sched.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] http shutdown: %v", err)
	}
}
