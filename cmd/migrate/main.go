package main

import (
	"context"
	"log"
	"os"

	"go.uber.org/zap"

	"topup/internal/config"
	"topup/internal/db"
	"topup/internal/logging"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}
	applied, err := migrate(context.Background(), database, dir)
	if err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	for _, name := range applied {
		logger.Info("applied migration", zap.String("file", name))
	}
	logger.Info("schema up to date", zap.Int("applied", len(applied)))
}
