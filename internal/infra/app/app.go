package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/core/port"
	"github.com/edukita/cbt-session-service/internal/infra/config"
	"github.com/edukita/cbt-session-service/internal/infra/database"
	kafkainfra "github.com/edukita/cbt-session-service/internal/infra/kafka"
	"github.com/edukita/cbt-session-service/internal/infra/logger"
	redisinfra "github.com/edukita/cbt-session-service/internal/infra/redis"
	"github.com/edukita/cbt-session-service/internal/infra/telemetry"
	postgresrepo "github.com/edukita/cbt-session-service/internal/repository/postgres"
	redisrepo "github.com/edukita/cbt-session-service/internal/repository/redis"
	"github.com/edukita/cbt-session-service/internal/transport/http/middleware"
	"github.com/edukita/cbt-session-service/internal/transport/http/routes"
	"github.com/edukita/cbt-session-service/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
	sweeper  *Sweeper
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics, err := telemetry.Attach(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.OTLPEndpoint != "" {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	policyDefaults := domain.IntegrityPolicy{
		HighSeverityLimit:     cfg.Integrity.HighSeverityLimit,
		CumulativeLimit:       cfg.Integrity.CumulativeLimit,
		HeartbeatInterval:     cfg.Integrity.HeartbeatInterval,
		MissedHeartbeatFactor: cfg.Integrity.MissedHeartbeatFactor,
		GracePeriod:           cfg.Integrity.GracePeriod,
	}

	repos := postgresrepo.NewRepositories(pool, policyDefaults)

	heartbeatCache := redisrepo.NewHeartbeatCache(redisClient.Client(), cfg.Redis.HeartbeatPrefix)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       rateLimitWindow * 2,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	var producer *kafkainfra.Producer
	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	admissionService := usecase.NewAdmissionService(repos.Sessions, repos.Exams, repos.Roster, eventPublisher, log).
		WithHeartbeatCache(heartbeatCache).
		WithMetrics(metrics)
	monitorService := usecase.NewMonitorService(repos.Sessions, repos.Exams, eventPublisher, log).
		WithHeartbeatCache(heartbeatCache).
		WithMetrics(metrics)
	overrideService := usecase.NewOverrideService(repos.Sessions, repos.Exams, repos.Audit, repos.Answers, eventPublisher, log).
		WithHeartbeatCache(heartbeatCache).
		WithMetrics(metrics)
	reportingService := usecase.NewReportingService(repos.Sessions, repos.Exams, log)

	verifier := middleware.NewTokenVerifier(cfg.Auth)

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		log.Warn("failed to init http metrics", zap.Error(err))
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Verifier:    verifier,
		Metrics:     httpMetrics,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Admission: admissionService,
			Monitor:   monitorService,
			Overrides: overrideService,
			Reporting: reportingService,
		},
	})

	sweeper := NewSweeper(monitorService, cfg.Sweeper, log)

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
		tracer:   tracer,
		sweeper:  sweeper,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()
	defer func() {
		if a.tracer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.tracer.Shutdown(shutdownCtx)
		}
	}()

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	if a.sweeper != nil {
		go a.sweeper.Run(sweepCtx)
	}

	var metricsSrv *http.Server
	if port := a.cfg.Telemetry.MetricsPort; port > 0 && port != a.cfg.App.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		a.logger.Info("starting metrics server", zap.String("address", metricsSrv.Addr))
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting CBT session API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		stopSweeper()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
