package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"attachr/internal/config"
	"attachr/internal/database"
	"attachr/internal/logging"
	"attachr/internal/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		logger.Error("apply migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied", "count", len(applied), "names", applied)
}
