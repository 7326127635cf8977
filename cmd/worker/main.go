// Worker expires stale kiosk codes and ends expired kiosk sessions every SWEEP_INTERVAL.
// DATABASE_URL is required; session events go to the same Redis/Kafka/OTLP sinks as the server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kiosk-control-plane/backend/internal/app"
	"kiosk-control-plane/backend/internal/config"
	"kiosk-control-plane/backend/internal/logger"
	"kiosk-control-plane/backend/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required")
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, "kiosk-worker", zl)
	if err != nil {
		zl.Fatal("worker: init", zap.Error(err))
	}
	sweeper.New(a.Codes, a.Sessions, cfg.SweepIntervalDuration(), zl).Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		zl.Warn("worker: shutdown", zap.Error(err))
	}
}
