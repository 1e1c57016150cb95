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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"topup/internal/config"
	"topup/internal/db"
	"topup/internal/events"
	"topup/internal/handlers"
	"topup/internal/logging"
	"topup/internal/models"
	"topup/internal/services"
	"topup/internal/store"
	"topup/internal/websocket"
)

const (
	dispatchWorkers = 4
	dispatchBuffer  = 256
	dispatchTimeout = 5 * time.Second
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	if cfg.IsProduction() && cfg.JWTSecret == config.DefaultJWTSecret {
		logger.Fatal("JWT_SECRET must be set in production")
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wallets := store.NewWalletStore(database)
	ledger := store.NewLedgerStore(database)
	topups := store.NewTopupStore(database)
	users := store.NewUserStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	eventStore := store.NewEventStore(database)
	txRunner := db.NewTxRunner(database, db.Options{MaxAttempts: cfg.TxMaxAttempts, LockTimeout: cfg.LockTimeout})
	hub := websocket.NewHub()

	var redisClient *redis.Client
	var notifier events.Notifier = events.NotifierFunc(func(_ context.Context, event models.SystemEvent) error {
		hub.BroadcastEvent(event)
		return nil
	})
	if cfg.RedisAddr != "" {
		redisClient = events.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer redisClient.Close()
		notifier = events.NewRedisNotifier(redisClient, cfg.EventsChannel)
		sub := redisClient.Subscribe(ctx, cfg.EventsChannel)
		defer sub.Close()
		go hub.Relay(ctx, sub.Channel())
		logger.Info("relaying system events from redis", zap.String("channel", cfg.EventsChannel))
	}

	// With brokers configured, events are queued on Kafka and recorded by
	// cmd/worker. Otherwise the recorder runs in-process.
	var eventHandler events.Handler
	dispatcherName := "recorder"
	if len(cfg.KafkaBrokers) > 0 {
		writer := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer writer.Close()
		eventHandler = events.NewKafkaPublisher(writer)
		dispatcherName = "kafka"
	} else {
		eventHandler = events.NewRecorder(eventStore, notifier, logger)
	}
	dispatcher := events.NewAsyncDispatcher(dispatcherName, eventHandler, dispatchWorkers, dispatchBuffer, dispatchTimeout, logger)

	service := services.NewTopupService(txRunner, topups, ledger, wallets, users, audit, dispatcher, hub, logger)
	handler := handlers.New(cfg, service, topups, ledger, wallets, admin, hub, logger)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("top-up API listening",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.AppEnv),
			zap.String("event_dispatcher", dispatcherName),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("event dispatcher did not drain", zap.Error(err))
	}
	cancel()
}
