package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kiosk-control-plane/backend/internal/app"
	"kiosk-control-plane/backend/internal/config"
	"kiosk-control-plane/backend/internal/logger"
	"kiosk-control-plane/backend/internal/security"
	"kiosk-control-plane/backend/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signer, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return err
	}
	tokens := security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, time.Hour)
	zl.Info("token keys loaded", zap.String("alg", security.KeyAlg(pub)))

	a, err := app.New(ctx, cfg, "kiosk-control-plane", zl)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			zl.Warn("shutdown", zap.Error(err))
		}
	}()
	a.Telemetry.SetGlobal()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := server.Deps{
		Tokens:              tokens,
		Codes:               a.Codes,
		Sessions:            a.Sessions,
		Completions:         a.Completions,
		Authorizer:          a.Authorizer,
		HealthPolicyChecker: a.Policy,
		Metrics:             promhttp.HandlerFor(a.Prometheus, promhttp.HandlerOpts{}),
		Logger:              zl,
	}
	if a.DB != nil {
		deps.HealthPinger = a.DB
	}
	return server.Serve(ctx, cfg.HTTPAddr, server.NewRouter(deps), shutdownTimeout, zl)
}
