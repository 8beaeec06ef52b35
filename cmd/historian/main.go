// cmd/historian/main.go
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/arena/internal/cache"
	"github.com/jason-s-yu/arena/internal/config"
	"github.com/jason-s-yu/arena/internal/database"
	"github.com/jason-s-yu/arena/internal/historian"
	_ "github.com/joho/godotenv/autoload"
)

// The historian drains the battle action queue into Postgres and closes out matches that
// went quiet.
func main() {
	cfg, err := config.LoadHistorian()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Fatalf("schema: %v", err)
	}

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	svc := historian.New(logger, historian.NewRedisQueue(rdb, cfg.HistorianQueue), database.NewMatchStore(pool), historian.Options{
		BatchSize:         cfg.BatchSize,
		FlushInterval:     cfg.FlushInterval,
		InactivityTimeout: cfg.InactivityTimeout,
		SweepInterval:     cfg.SweepInterval,
	})

	logger.Infof("Historian listening on queue %q", cfg.HistorianQueue)
	if err := svc.Run(ctx); err != nil {
		logger.Fatalf("historian: %v", err)
	}
	logger.Info("Historian stopped")
}
