// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/arena/internal/auth"
	"github.com/jason-s-yu/arena/internal/battle"
	"github.com/jason-s-yu/arena/internal/cache"
	"github.com/jason-s-yu/arena/internal/config"
	"github.com/jason-s-yu/arena/internal/database"
	"github.com/jason-s-yu/arena/internal/handlers"
	"github.com/jason-s-yu/arena/internal/middleware"
	"github.com/jason-s-yu/arena/internal/models"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	cfg, err := config.Load()
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

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	chart := battle.DefaultTypeChart()
	if cfg.TypeChartPath != "" {
		if chart, err = battle.LoadTypeChartFile(cfg.TypeChartPath); err != nil {
			logger.Fatalf("type chart: %v", err)
		}
		logger.Infof("Loaded type chart from %s", cfg.TypeChartPath)
	}

	opts := handlers.Options{
		Decks:   database.NewDeckStore(pool),
		Matches: database.NewMatchStore(pool),
		Chart:   chart,
		Rules: models.BattleRules{
			TurnTimeout:         cfg.TurnTimeout,
			ForfeitOnDisconnect: cfg.ForfeitOnDisconnect,
		},
		OutboundBuffer: cfg.OutboundBuffer,
	}
	// The action log is optional; battles run the same without it.
	if rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB); err != nil {
		logger.Warnf("redis unavailable, action history disabled: %v", err)
	} else {
		defer rdb.Close()
		opts.Actions = cache.NewPublisher(rdb, cfg.HistorianQueue)
	}

	gs := handlers.NewGameServer(logger, opts)
	logged := middleware.LogMiddleware(logger)

	mux := http.NewServeMux()
	mux.Handle("/", logged(http.HandlerFunc(handlers.PingHandler)))
	mux.Handle("/rooms", logged(handlers.ListRoomsHandler(gs, verifier)))
	mux.Handle("/ws", logged(handlers.WSHandler(logger, gs, verifier)))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("shutdown: %v", err)
		}
		if err := gs.Battles.Close(shutdownCtx); err != nil {
			logger.Warnf("action log not fully published: %v", err)
		}
	}()

	logger.Infof("Running on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
	<-stopped
}
