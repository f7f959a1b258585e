package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/internal/backend"
	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/internal/event"
	handler "github.com/utafrali/storefront/internal/handler/http"
	"github.com/utafrali/storefront/internal/middleware"
	"github.com/utafrali/storefront/internal/proxy"
	"github.com/utafrali/storefront/internal/session"
	"github.com/utafrali/storefront/internal/session/storage/memory"
	redisstore "github.com/utafrali/storefront/internal/session/storage/redis"
	"github.com/utafrali/storefront/internal/visitor"
	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httpclient"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/tracing"
)

// App wires together all dependencies and runs the storefront edge service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	registry       *visitor.Registry
	loginLimiter   *middleware.RateLimiter
	kafkaProducer  *pkgkafka.Producer
	redisClient    *goredis.Client
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance: tracing, the backend client,
// refresh-token storage, session events, the visitor registry and the HTTP
// router.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "storefront",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		tracerShutdown: tracerShutdown,
	}

	// Backend HTTP client behind a circuit breaker.
	hcCfg := httpclient.DefaultConfig()
	hcCfg.Timeout = cfg.BackendTimeout
	breaker := httpclient.NewCircuitBreakerClient(
		httpclient.New(hcCfg),
		httpclient.DefaultCircuitBreakerConfig(backend.ServiceName),
		logger,
	)
	api := backend.NewClient(cfg.BackendURL+cfg.BackendAPIPrefix, breaker, logger)

	healthHandler := health.NewHandler()

	// Durable refresh-token storage.
	var storage session.RefreshStorage
	switch cfg.SessionStore {
	case config.StoreRedis:
		redisCfg := database.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		client, err := database.NewRedisClient(ctx, redisCfg)
		if err != nil {
			a.shutdownTracer()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redisClient = client
		storage = redisstore.New(client, cfg.SessionTTL)
		healthHandler.Register("redis", database.RedisChecker(client))
		logger.Info("refresh tokens stored in redis", slog.String("addr", cfg.RedisAddr))
	default:
		storage = memory.New(cfg.SessionTTL)
		logger.Warn("refresh tokens stored in process memory; sessions do not survive restarts")
	}

	// Session lifecycle events.
	var events session.Events = event.Noop{}
	if cfg.KafkaEnabled {
		kcfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
		kcfg.Async = true
		a.kafkaProducer = pkgkafka.NewProducer(kcfg, logger)
		events = event.NewProducer(a.kafkaProducer, logger)
		healthHandler.RegisterNonCritical("kafka", a.kafkaProducer.Ping)
	}

	a.registry = visitor.NewRegistry(visitor.Config{
		IdleTTL:       cfg.VisitorIdleTTL,
		LogoutTimeout: cfg.LogoutTimeout,
		RetryPolicy:   session.NewRetryPolicy(cfg.SessionInitMaxAttempts, cfg.SessionInitBaseDelay),
	}, storage, api, breaker, events, logger)
	a.registry.Start()

	a.loginLimiter = middleware.NewRateLimiter(cfg.LoginRateLimitRPS, cfg.LoginRateLimitBurst, 0, logger)

	px, err := proxy.New(proxy.Config{
		BackendURL:      cfg.BackendURL,
		FrontendURL:     cfg.FrontendURL,
		DialTimeout:     5 * time.Second,
		ResponseTimeout: cfg.BackendTimeout,
		IdleTimeout:     90 * time.Second,
		MaxIdleConns:    100,
	}, logger)
	if err != nil {
		_ = a.Shutdown()
		return nil, fmt.Errorf("create proxy: %w", err)
	}

	router := handler.NewRouter(cfg, a.registry, px, a.loginLimiter, healthHandler, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Visitor registry and rate limiter loops
// 3. Kafka producer (flush async session events)
// 4. Redis client
// 5. Tracer (flush pending spans)
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	if a.httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer httpCancel()
		if err := a.httpServer.Shutdown(httpCtx); err != nil {
			a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 2. Stop background loops.
	if a.registry != nil {
		a.registry.Stop()
	}
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}

	// 3. Flush session events.
	if a.kafkaProducer != nil {
		if err := a.kafkaProducer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close redis.
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 5. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if err := a.shutdownTracer(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) shutdownTracer() error {
	if a.tracerShutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := a.tracerShutdown(ctx)
	if err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}
	a.tracerShutdown = nil
	return err
}
