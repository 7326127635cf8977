// Package app builds the kiosk services from config. cmd/server and cmd/worker share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"kiosk-control-plane/backend/internal/billing"
	completionrepo "kiosk-control-plane/backend/internal/completion/repository"
	completionservice "kiosk-control-plane/backend/internal/completion/service"
	"kiosk-control-plane/backend/internal/config"
	"kiosk-control-plane/backend/internal/db"
	identityrepo "kiosk-control-plane/backend/internal/identity/repository"
	coderepo "kiosk-control-plane/backend/internal/kioskcode/repository"
	codeservice "kiosk-control-plane/backend/internal/kioskcode/service"
	sessionrepo "kiosk-control-plane/backend/internal/kiosksession/repository"
	sessionservice "kiosk-control-plane/backend/internal/kiosksession/service"
	"kiosk-control-plane/backend/internal/logger"
	"kiosk-control-plane/backend/internal/memstore"
	"kiosk-control-plane/backend/internal/notify"
	"kiosk-control-plane/backend/internal/policy"
	"kiosk-control-plane/backend/internal/policy/engine"
	"kiosk-control-plane/backend/internal/telemetry"
	otelsetup "kiosk-control-plane/backend/internal/telemetry/otel"
)

// App holds the wired services. Exactly one of DB and Store is set.
type App struct {
	DB    *sql.DB
	Store *memstore.Store

	Codes       *codeservice.Registry
	Sessions    *sessionservice.Manager
	Completions *completionservice.Service
	Authorizer  *policy.Authorizer
	Policy      *engine.OPAEvaluator
	Limits      billing.TierLimits

	Telemetry  *otelsetup.Providers
	Prometheus *prometheus.Registry

	notifier *notify.Async
	closers  []func(context.Context) error
	logger   *zap.Logger
}

// New wires storage, notifiers, telemetry and the services. Without DATABASE_URL it runs on the
// in-memory store, which loses everything on restart. Call Close on shutdown.
func New(ctx context.Context, cfg *config.Config, serviceName string, log *zap.Logger) (*App, error) {
	log = logger.OrNop(log)
	a := &App{logger: log, Prometheus: prometheus.NewRegistry()}
	a.Prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	providers, err := otelsetup.NewProviders(ctx, otelsetup.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Insecure:    cfg.OTLPInsecure,
		Registerer:  a.Prometheus,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.Telemetry = providers
	a.closers = append(a.closers, providers.Shutdown)
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter(serviceName))
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("metrics: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("redis: %w", err)
		}
	}

	notifiers := notify.Multi{notify.NewOTelNotifier(providers.LoggerProvider)}
	if rdb != nil {
		notifiers = append(notifiers, notify.NewRedisNotifier(rdb, cfg.NotifyRedisChannel))
	}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kn := notify.NewKafkaNotifier(brokers, cfg.NotifyKafkaTopic)
		a.closers = append(a.closers, func(context.Context) error { return kn.Close() })
		notifiers = append(notifiers, kn)
	}
	a.notifier = notify.NewAsync(notifiers, log)
	// Registered last so Close drains deliveries before their sinks shut down.
	a.closers = append(a.closers, a.notifier.Drain)

	var (
		codes     coderepo.Repository
		sessions  sessionrepo.Repository
		completes completionrepo.Repository
		tasks     completionrepo.TaskSource
		people    identityrepo.Directory
	)
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("database: %w", err)
		}
		a.DB = conn
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
		cr := completionrepo.NewPostgresRepository(conn)
		codes, sessions, completes, tasks = coderepo.NewPostgresRepository(conn), sessionrepo.NewPostgresRepository(conn), cr, cr
		people = identityrepo.NewPostgresRepository(conn)
		a.Limits = billing.NewPostgresLimits(conn, cfg.DefaultCodeLimit)
	} else {
		log.Warn("DATABASE_URL not set; using in-memory store")
		a.Store = memstore.New()
		codes, sessions, completes, tasks = a.Store.Codes(), a.Store.Sessions(), a.Store.Completions(), a.Store.Completions()
		people = a.Store.People()
		a.Limits = billing.Static(cfg.DefaultCodeLimit)
	}
	if rdb != nil {
		a.Limits = billing.NewCachedLimits(a.Limits, rdb, cfg.TierCacheTTLDuration(), log)
	}

	a.Policy, err = engine.NewOPAEvaluator(ctx, "")
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("policy: %w", err)
	}

	a.Codes = codeservice.NewRegistry(codes, a.Limits, metrics, log)
	a.Sessions = sessionservice.NewManager(sessions, a.Codes, a.notifier, metrics, log)
	a.Completions = completionservice.NewService(tasks, completes, cfg.UndoWindowDuration(), a.notifier, metrics, log)
	a.Authorizer = policy.NewAuthorizer(a.Codes, people, a.Policy, log)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
