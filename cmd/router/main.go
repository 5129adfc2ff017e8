package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/penguintechinc/waddlebot-router/internal/adapter"
	"github.com/penguintechinc/waddlebot-router/internal/adapter/gcpfunction"
	"github.com/penguintechinc/waddlebot-router/internal/adapter/grpcadapter"
	"github.com/penguintechinc/waddlebot-router/internal/adapter/inprocess"
	"github.com/penguintechinc/waddlebot-router/internal/adapter/lambda"
	"github.com/penguintechinc/waddlebot-router/internal/adapter/openwhisk"
	"github.com/penguintechinc/waddlebot-router/internal/adapter/webhook"
	"github.com/penguintechinc/waddlebot-router/internal/admin"
	"github.com/penguintechinc/waddlebot-router/internal/audit"
	"github.com/penguintechinc/waddlebot-router/internal/breaker"
	"github.com/penguintechinc/waddlebot-router/internal/config"
	"github.com/penguintechinc/waddlebot-router/internal/dispatcher"
	"github.com/penguintechinc/waddlebot-router/internal/egress"
	"github.com/penguintechinc/waddlebot-router/internal/ingress"
	"github.com/penguintechinc/waddlebot-router/internal/logging"
	"github.com/penguintechinc/waddlebot-router/internal/obsmetrics"
	"github.com/penguintechinc/waddlebot-router/internal/permission"
	"github.com/penguintechinc/waddlebot-router/internal/ratelimit"
	"github.com/penguintechinc/waddlebot-router/internal/resolver"
	"github.com/penguintechinc/waddlebot-router/internal/respcache"
	"github.com/penguintechinc/waddlebot-router/internal/store"
	"github.com/penguintechinc/waddlebot-router/internal/types"

	"github.com/redis/go-redis/v9"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/router.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Waddlebot Router %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	logger, logCloser, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if logCloser != nil {
		defer logCloser.Close()
	}
	logging.SetGlobal(logger)

	logging.Info("starting waddlebot router",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := build(ctx, cfg)
	if err != nil {
		logging.Error("failed to build router", zap.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("starting ingress http server", zap.Int("port", cfg.Server.Port))
		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      d.ingressServer.Handler(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		select {
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("ingress server: %w", err)
			}
			return nil
		case <-gctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	})

	if d.consumer != nil {
		g.Go(func() error {
			logging.Info("starting amqp ingress consumer")
			errCh := make(chan error, 1)
			go func() { errCh <- d.consumer.Run() }()
			select {
			case err := <-errCh:
				return err
			case <-gctx.Done():
				return d.consumer.Close()
			}
		})
	}

	if cfg.Admin.Enabled {
		g.Go(func() error {
			logging.Info("starting admin server", zap.Int("port", cfg.Admin.Port))
			srv := &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.Admin.Port),
				Handler: d.adminServer.Handler(),
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return fmt.Errorf("admin server: %w", err)
				}
				return nil
			case <-gctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		})
	}

	if err := g.Wait(); err != nil {
		logging.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}
	logging.Info("waddlebot router stopped")
}

// router bundles every constructed component so main can wire each server
// against them and close what owns a background resource on shutdown.
type router struct {
	ingressServer *ingress.Server
	consumer      *ingress.Consumer
	adminServer   *admin.Server
	pgPool        *pgxpool.Pool
	auditSink     *audit.Sink
	breakers      *breaker.Registry
}

func (r *router) Close() {
	if r.breakers != nil {
		if err := r.breakers.Persist(); err != nil {
			logging.Warn("breaker snapshot persist error", zap.Error(err))
		}
	}
	if r.auditSink != nil {
		if err := r.auditSink.Close(); err != nil {
			logging.Warn("audit sink close error", zap.Error(err))
		}
	}
	if r.pgPool != nil {
		r.pgPool.Close()
	}
}

// build constructs the full dependency graph described by configuration:
// store, permission gate, rate limiter, cache, adapter registry, egress
// fan-out, dispatcher, and the ingress/admin servers that front it.
func build(ctx context.Context, cfg *config.Config) (*router, error) {
	metrics := obsmetrics.New(prometheus.DefaultRegisterer)

	routeProvider, grantStore, adapterSource, pgPool, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.RateLimit.Store == "shared" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RateLimit.Redis.Addr, Password: cfg.RateLimit.Redis.Password, DB: cfg.RateLimit.Redis.DB})
	}
	limiter := ratelimit.New(cfg.RateLimit, redisClient)

	var revoker permission.Revoker
	if cfg.Permission.Revocation.Store == "redis" {
		revokeClient := redis.NewClient(&redis.Options{Addr: cfg.Permission.Revocation.Redis.Addr, Password: cfg.Permission.Revocation.Redis.Password, DB: cfg.Permission.Revocation.Redis.DB})
		revoker = permission.NewRedisRevocationList(revokeClient)
	} else {
		revoker = permission.NewMemoryRevocationList(time.Hour)
	}
	var verifier *permission.EnvelopeVerifier
	if cfg.Permission.EnvelopeSecret != "" {
		verifier = permission.NewEnvelopeVerifier(cfg.Permission.EnvelopeSecret)
	}
	gate := permission.NewGate(grantStore, verifier, revoker)

	cache := respcache.NewResponseCache(cfg.Cache.MaxEntries, cfg.Cache.SingleFlightTimeout)

	res := resolver.New(routeProvider)

	adapters, err := buildAdapterRegistry(cfg, adapterSource, ctx)
	if err != nil {
		return nil, err
	}

	fanout := egress.NewFanout(cfg.Egress)
	if err := wireEgressTargets(fanout, cfg.Egress); err != nil {
		return nil, err
	}

	breakers := breaker.NewRegistry(cfg.Breaker)
	if snaps, err := breakers.LoadSnapshots(); err != nil {
		logging.Warn("breaker snapshot load error", zap.Error(err))
	} else if len(snaps) > 0 {
		breakers.RestoreFrom(snaps)
		logging.Info("restored breaker snapshots", zap.Int("count", len(snaps)))
	}

	auditSink, err := buildAuditSink(cfg, pgPool)
	if err != nil {
		return nil, err
	}

	disp := dispatcher.New(dispatcher.Deps{
		Resolver: res,
		Gate:     gate,
		Limiter:  limiter,
		Cache:    cache,
		Adapters: adapters,
		Fanout:   fanout,
		Sink:     auditSink,
		Metrics:  metrics,
		Breakers: breakers,
		RetryCfg: cfg.Retry,
	})

	ingressServer := ingress.NewServer(disp, cfg.Ingress.MaxInFlight, cfg.Ingress.EventDeadline)

	var consumer *ingress.Consumer
	if cfg.Ingress.Queue.Enabled {
		consumer, err = ingress.NewConsumer(cfg.Ingress.Queue, disp, cfg.Ingress.EventDeadline)
		if err != nil {
			return nil, fmt.Errorf("amqp consumer: %w", err)
		}
	}

	adminServer := admin.NewServer(admin.Deps{
		Breakers: breakers,
		Cache:    cache,
		Resolver: res,
		Ingress:  ingressServer,
		Retries:  disp,
	})

	return &router{
		ingressServer: ingressServer,
		consumer:      consumer,
		adminServer:   adminServer,
		pgPool:        pgPool,
		auditSink:     auditSink,
		breakers:      breakers,
	}, nil
}

func buildAdapterRegistry(cfg *config.Config, source *store.AdapterRegistrationStore, ctx context.Context) (*adapter.Registry, error) {
	adapters := adapter.NewRegistry()
	adapters.RegisterFactory(types.AdapterWebhook, webhook.New)
	adapters.RegisterFactory(types.AdapterGRPC, grpcadapter.New)
	adapters.RegisterFactory(types.AdapterLambda, lambda.New)
	adapters.RegisterFactory(types.AdapterGCPFunction, gcpfunction.New)
	adapters.RegisterFactory(types.AdapterOpenWhisk, openwhisk.New)
	adapters.RegisterFactory(types.AdapterInProcess, inprocess.NewRegistry().New)

	if source == nil {
		return adapters, nil
	}
	regs, err := source.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load adapter registrations: %w", err)
	}
	for _, reg := range regs {
		adapters.Put(reg)
	}
	return adapters, nil
}

func wireEgressTargets(fanout *egress.Fanout, cfg config.EgressConfig) error {
	for platform, targetCfg := range cfg.Targets {
		t, err := egress.NewWebhookTarget(targetCfg, cfg.Timeout)
		if err != nil {
			return fmt.Errorf("egress target %q: %w", platform, err)
		}
		fanout.Register(platform, t)
	}
	return nil
}

func buildAuditSink(cfg *config.Config, pgPool *pgxpool.Pool) (*audit.Sink, error) {
	var backend audit.Backend
	switch cfg.Audit.Backend {
	case "postgres":
		if pgPool == nil {
			return nil, fmt.Errorf("audit backend postgres requires store.backend postgres")
		}
		backend = audit.NewPostgresBackend(pgPool)
	default:
		backend = audit.NewMemoryBackend(10000)
	}
	return audit.NewSink(backend, audit.Config{
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushEvery,
	}), nil
}

// buildStore wires the resolver's route provider, the permission gate's
// grant store, and the adapter registry's registration source against
// either Postgres or the in-memory fixtures, depending on cfg.Store.Backend.
// Route/grant/adapter data share one connection pool when Postgres-backed.
func buildStore(ctx context.Context, cfg *config.Config) (resolver.RouteProvider, permission.GrantStore, *store.AdapterRegistrationStore, *pgxpool.Pool, error) {
	if cfg.Store.Backend != "postgres" {
		return store.NewMemoryRouteStore(), permission.NewMemoryGrantStore(), nil, nil, nil
	}

	pgCfg := cfg.Store.Postgres
	pool, err := store.Connect(ctx, pgCfg.DSN, int(pgCfg.MaxConns), 0)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect postgres store: %w", err)
	}
	if err := store.Migrate(pgCfg.DSN, logging.Global()); err != nil {
		pool.Close()
		return nil, nil, nil, nil, fmt.Errorf("migrate postgres store: %w", err)
	}

	return store.NewRouteStore(pool), store.NewGrantStore(pool), store.NewAdapterRegistrationStore(pool), pool, nil
}
