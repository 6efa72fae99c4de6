// server runs the activity tracking backend: the gin HTTP API, the gRPC health endpoint and the
// stale session scheduler. Configure via env or .env; see internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	adminhandler "club-manager/backend/internal/admin/handler"
	"club-manager/backend/internal/audit"
	auditrepo "club-manager/backend/internal/audit/repository"
	"club-manager/backend/internal/config"
	"club-manager/backend/internal/correlation"
	"club-manager/backend/internal/db"
	"club-manager/backend/internal/db/migrate"
	"club-manager/backend/internal/device"
	"club-manager/backend/internal/health"
	"club-manager/backend/internal/logging"
	"club-manager/backend/internal/policy/engine"
	"club-manager/backend/internal/security"
	"club-manager/backend/internal/server"
	sessionhandler "club-manager/backend/internal/session/handler"
	"club-manager/backend/internal/session/hub"
	"club-manager/backend/internal/session/maintenance"
	"club-manager/backend/internal/session/repository"
	"club-manager/backend/internal/session/stats"
	"club-manager/backend/internal/telemetry"
	telemetryotel "club-manager/backend/internal/telemetry/otel"
	"club-manager/backend/internal/telemetry/producer"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	serviceName       = "club-activity"
	tokenIssuer       = "club-activity"
	correlationTTL    = 7 * 24 * time.Hour
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "info").Fatal(ctx, "load config", slog.Error(err))
	}
	logger := logging.New(os.Stderr, cfg.LogLevel).Named("server")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal(ctx, "server exited", slog.Error(err))
	}
	logger.Info(context.Background(), "server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger slog.Logger) error {
	clock := quartz.NewReal()
	loc := cfg.Location()
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		Timezone:       loc.String(),
	})
	if err != nil {
		return fmt.Errorf("otel providers: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "otel shutdown", slog.Error(err))
		}
	}()

	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kafkaProducer := producer.NewKafkaProducer(brokers, cfg.ActivityKafkaTopic)
		defer kafkaProducer.Close()
		emitters = append(emitters, kafkaProducer)
		logger.Info(ctx, "emitting session events to kafka",
			slog.F("brokers", brokers),
			slog.F("topic", cfg.ActivityKafkaTopic),
		)
	}
	events := telemetry.Multi(emitters...)

	var (
		repo      repository.Repository
		auditLogs auditrepo.Repository
		checker   = health.Options{Clock: clock, Logger: logger}
	)
	if cfg.DatabaseURL != "" {
		version, err := migrate.Run(cfg.DatabaseURL, migrate.Up)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info(ctx, "database migrated", slog.F("version", version))

		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer conn.Close()
		repo = repository.NewPostgresRepository(conn)
		auditLogs = auditrepo.NewPostgresRepository(conn)
		checker.Pinger = conn
	} else {
		logger.Warn(ctx, "DATABASE_URL is empty; sessions are kept in memory and lost on restart")
		repo = repository.NewMemoryRepository(clock)
		auditLogs = auditrepo.NewMemoryRepository()
	}

	store, closeStore, err := openCorrelation(ctx, cfg)
	if err != nil {
		return fmt.Errorf("correlation store: %w", err)
	}
	defer closeStore.Close()
	logger.Info(ctx, "correlation store ready", slog.F("backend", cfg.CorrelationBackend))

	clients := hub.NewRegistry(hub.Config{
		Repo:          repo,
		Correlation:   store,
		Clock:         clock,
		Location:      loc,
		Logger:        logger,
		Events:        events,
		IdleTimeout:   cfg.IdleTimeoutDuration(),
		IdleInterval:  cfg.IdleCheckIntervalDuration(),
		FlushInterval: cfg.ActivityFlushIntervalDuration(),
		BeaconTimeout: cfg.BeaconTimeoutDuration(),
	})

	jobOpts := maintenance.Options{
		Clock:      clock,
		Location:   loc,
		BatchSize:  cfg.CleanupBatchSize,
		BatchPause: cfg.CleanupBatchPauseDuration(),
		Logger:     logger,
		Events:     events,
	}
	reconcileOpts := jobOpts
	reconcileOpts.Limit = cfg.ReconcileLimit
	reconciler := maintenance.NewReconciler(repo, reconcileOpts)
	collapseOpts := jobOpts
	collapseOpts.Limit = cfg.DuplicateScanLimit
	collapser := maintenance.NewCollapser(repo, collapseOpts)

	scheduler := maintenance.NewScheduler(ctx, logger, clock, cfg.ReconcileIntervalDuration(), func(ctx context.Context) {
		reconciler.Run(ctx)
	})
	defer scheduler.Close()

	httpDeps := server.HTTPDeps{
		Activity:       sessionhandler.New(clients, device.NewProber(cfg.IPLookupURL, nil), logger, cfg.Env == "production"),
		TrustedProxies: cfg.TrustedProxiesList(),
		Logger:         logger,
	}
	if cfg.OperatorJWTSecret != "" {
		policy, err := loadPolicy(cfg.OperatorPolicyFile)
		if err != nil {
			return err
		}
		authz, err := engine.NewOPAEvaluator(ctx, policy, logger)
		if err != nil {
			return fmt.Errorf("admin policy: %w", err)
		}
		checker.PolicyChecker = authz
		httpDeps.Admin = adminhandler.New(adminhandler.Deps{
			Stats:        stats.NewReader(repo, clock, loc, logger),
			Reconciler:   reconciler,
			Collapser:    collapser,
			Tokens:       security.NewOperatorTokens(cfg.OperatorJWTSecret, tokenIssuer, cfg.OperatorTokenTTLDuration(), clock),
			Hasher:       security.NewHasher(cfg.BcryptCost),
			PasswordHash: cfg.OperatorPasswordHash,
			Authz:        authz,
			Audit:        audit.NewLogger(auditLogs, clock, logger),
			AuditLog:     auditLogs,
			Location:     loc,
			Logger:       logger,
		})
		if cfg.OperatorPasswordHash == "" {
			logger.Warn(ctx, "OPERATOR_PASSWORD_HASH is empty; operator tokens cannot be issued")
		}
	} else {
		logger.Info(ctx, "OPERATOR_JWT_SECRET is empty; admin routes disabled")
	}

	readiness := health.NewChecker(checker)
	httpDeps.Health = readiness
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewRouter(httpDeps),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	grpcSrv := server.NewGRPCServer(readiness, logger)
	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return readiness.Run(gctx)
	})
	g.Go(func() error {
		logger.Info(gctx, "http server listening", slog.F("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	if grpcLis != nil {
		g.Go(func() error {
			logger.Info(gctx, "grpc health server listening", slog.F("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down")
		readiness.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)

		// Close open sessions the way a page unload would; the reconciler repairs any misses.
		clients.FlushAll()

		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}

		// Let in-flight async event emits finish before the producers and exporters close.
		time.Sleep(telemetry.ShutdownDrainDuration)
		return err
	})
	return g.Wait()
}

func openCorrelation(ctx context.Context, cfg *config.Config) (correlation.Store, io.Closer, error) {
	switch cfg.CorrelationBackend {
	case config.CorrelationRedis:
		s, err := correlation.NewRedisStore(ctx, cfg.RedisURL, correlationTTL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.CorrelationSQLite:
		s, err := correlation.OpenSQLiteStore(ctx, cfg.CorrelationSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return correlation.NewMemoryStore(), io.NopCloser(nil), nil
	}
}

func loadPolicy(path string) (string, error) {
	if path == "" {
		return engine.DefaultPolicy, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read OPERATOR_POLICY_FILE: %w", err)
	}
	return string(b), nil
}
