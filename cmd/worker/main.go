package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"topup/internal/config"
	"topup/internal/db"
	"topup/internal/events"
	"topup/internal/logging"
	"topup/internal/models"
	"topup/internal/store"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required for the event worker")
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	var notifier events.Notifier = events.NotifierFunc(func(_ context.Context, event models.SystemEvent) error {
		logger.Debug("system event recorded", zap.String("event_type", event.EventType), zap.String("idempotency_key", event.IdempotencyKey))
		return nil
	})
	if cfg.RedisAddr != "" {
		client := events.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer client.Close()
		notifier = events.NewRedisNotifier(client, cfg.EventsChannel)
	}

	recorder := events.NewRecorder(store.NewEventStore(database), notifier, logger)
	reader := events.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("event worker consuming",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group_id", cfg.KafkaGroupID),
	)
	if err := events.NewConsumer(reader, recorder, logger).Run(ctx); err != nil {
		logger.Error("event consumer stopped", zap.Error(err))
	}
}
