package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/synthflow/internal/application/orchestrator"
	"github.com/aescanero/synthflow/internal/application/privacy"
	"github.com/aescanero/synthflow/internal/application/provenance"
	"github.com/aescanero/synthflow/internal/application/review"
	"github.com/aescanero/synthflow/internal/application/workers"
	"github.com/aescanero/synthflow/internal/config"
	"github.com/aescanero/synthflow/internal/tracing"
	auditmemory "github.com/aescanero/synthflow/pkg/adapters/audit/memory"
	auditpostgres "github.com/aescanero/synthflow/pkg/adapters/audit/postgres"
	auditredis "github.com/aescanero/synthflow/pkg/adapters/audit/redis"
	eventsmemory "github.com/aescanero/synthflow/pkg/adapters/events/memory"
	eventsredis "github.com/aescanero/synthflow/pkg/adapters/events/redis"
	"github.com/aescanero/synthflow/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/synthflow/pkg/adapters/storage/memory"
	storageredis "github.com/aescanero/synthflow/pkg/adapters/storage/redis"
	"github.com/aescanero/synthflow/pkg/api/grpc"
	"github.com/aescanero/synthflow/pkg/api/http"
	"github.com/aescanero/synthflow/pkg/api/websocket"
	"github.com/aescanero/synthflow/pkg/ports"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting synthflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	var pgPool *pgxpool.Pool
	if cfg.Storage.Audit == config.BackendPostgres {
		pgPool, err = connectPostgres(ctx, cfg.Postgres)
		if err != nil {
			logger.Fatal("failed to connect to Postgres", zap.Error(err))
		}
		logger.Info("connected to Postgres")
	}

	// Initialize adapters
	var eventBus ports.EventBus
	switch cfg.Storage.Events {
	case config.BackendRedis:
		eventBus = eventsredis.NewStreamsEventBus(redisClient, cfg.Redis.EventStreamMaxLen, logger)
	default:
		eventBus = eventsmemory.NewEventBus(logger)
	}

	var jobStore ports.JobStore
	switch cfg.Storage.Jobs {
	case config.BackendRedis:
		jobStore = storageredis.NewJobStore(redisClient, cfg.Redis.JobTTL, logger)
	default:
		jobStore = storagememory.NewJobStore()
	}

	var auditStore ports.AuditStore
	switch cfg.Storage.Audit {
	case config.BackendRedis:
		auditStore = auditredis.NewAuditStore(redisClient, logger)
	case config.BackendPostgres:
		store := auditpostgres.New(pgPool)
		if err := store.CreateSchema(ctx); err != nil {
			logger.Fatal("failed to create audit schema", zap.Error(err))
		}
		auditStore = store
	default:
		auditStore = auditmemory.NewAuditStore()
	}

	metricsCollector := prometheus.NewCollector(nil)

	maxRisk, err := privacy.ParseRiskLevel(cfg.Privacy.MaxAcceptedRisk)
	if err != nil {
		logger.Fatal("invalid privacy threshold", zap.Error(err))
	}

	tasks := orchestrator.NewTaskRegistry()
	if err := orchestrator.RegisterBuiltins(tasks); err != nil {
		logger.Fatal("failed to register tasks", zap.Error(err))
	}

	tracerProvider, err := tracing.NewProvider(ctx, cfg.Tracing, tracing.WithVersion(Version))
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	logger.Info("tracing configured",
		zap.Bool("enabled", cfg.Tracing.Enabled),
		zap.String("endpoint", cfg.Tracing.Endpoint))

	// Initialize application components
	controller := workers.NewController(cfg.Scheduler.Capacity, metricsCollector, logger)
	reviews := review.NewQueue(
		cfg.Review.MaxPending,
		cfg.Review.MaxPerPeriod,
		cfg.Review.Reviewers,
		review.WithPeriod(cfg.Review.Period),
		review.WithMetrics(metricsCollector),
		review.WithLogger(logger),
	)

	orchestratorMgr := orchestrator.NewManager(
		controller,
		provenance.NewLedger(auditStore, logger),
		privacy.NewGate(nil, maxRisk, metricsCollector, logger),
		reviews,
		tasks,
		eventBus,
		jobStore,
		metricsCollector,
		logger,
		cfg.Timeouts.JobExecutionTimeout,
		orchestrator.WithTracer(tracerProvider.Tracer("synthflow")),
		orchestrator.WithSnapshotInterval(cfg.Scheduler.SnapshotInterval),
	)

	healthMonitor := workers.NewHealthMonitor(controller, cfg.Scheduler.HealthCheckInterval, metricsCollector, logger)
	healthMonitor.Start()

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Health:       healthMonitor,
		Logger:       logger,
	})

	wsHandler := websocket.NewHandler(eventBus, orchestratorMgr, logger)
	httpServer.SetupWebSocket(wsHandler.HandleJobStream)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:          cfg.GRPCPort,
		Health:        healthMonitor,
		CheckInterval: cfg.Scheduler.HealthCheckInterval,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("synthflow started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("scheduler_capacity", cfg.Scheduler.Capacity),
		zap.String("jobs_backend", cfg.Storage.Jobs),
		zap.String("audit_backend", cfg.Storage.Audit),
		zap.String("events_backend", cfg.Storage.Events))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	healthMonitor.Stop()

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", zap.Error(err))
	}

	if pgPool != nil {
		pgPool.Close()
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("synthflow shut down complete")
}

func connectPostgres(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
