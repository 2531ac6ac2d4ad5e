package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tallysync/internal/caching"
	"tallysync/internal/config"
	"tallysync/internal/handlers"
	"tallysync/internal/jobs"
	"tallysync/internal/jobs/background"
	"tallysync/internal/middleware"
	"tallysync/internal/observability"
	"tallysync/internal/repositories"
	"tallysync/internal/services"
	"tallysync/internal/tally"
	"tallysync/pkg/database"

	"github.com/go-chi/httprate"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

func main() {
	appCfg, err := config.LoadAppConfig(".env")
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := config.NewLogger(appCfg.LogLevel, appCfg.LogFormat)

	tallyCfg, err := config.LoadTallyConfig(appCfg.TallyConfigPath)
	if err != nil {
		logger.Fatalf("Failed to load tally configuration: %v", err)
	}
	appCfg.Apply(tallyCfg)
	if err := tallyCfg.Validate(); err != nil {
		logger.Fatalf("Invalid tally configuration: %v", err)
	}
	connections, err := tallyCfg.ResolveConnections()
	if err != nil {
		logger.Fatalf("Invalid tally connections: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if appCfg.RunMigrations {
		if err := database.Migrate(appCfg.DatabaseURL); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
	}

	pool, err := database.NewPool(ctx, appCfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	repo := repositories.NewTallyRepository(pool)

	redisClient := caching.NewRedisClient(appCfg.RedisAddr, appCfg.RedisPassword, appCfg.RedisDB)
	defer redisClient.Close()
	state := caching.NewSyncStateStore(redisClient)
	locker := caching.NewRedisLocker(redisClient)

	var archiver services.PayloadArchiver
	if appCfg.MinioEnabled && tallyCfg.Tally.ArchivePayloads {
		archiver, err = services.NewMinioArchiver(appCfg.MinioEndpoint, appCfg.MinioAccessKey, appCfg.MinioSecretKey, appCfg.MinioBucket, appCfg.MinioUseSSL)
		if err != nil {
			logger.Fatalf("Failed to initialize MinIO archiver: %v", err)
		}
		if err := archiver.EnsureBucketExists(ctx); err != nil {
			logger.WithError(err).Warn("Payload bucket unavailable, archiving will be retried per request")
		}
	}

	metrics := observability.NewMetrics()
	clients := newClientCache(tallyCfg, archiver, logger)

	syncSvc := jobs.NewSyncService(repo, clients.Fetcher, connections, jobs.SyncServiceOptions{
		VoucherTypes:      tallyCfg.Tally.VoucherTypes,
		VoucherWindowDays: tallyCfg.Scheduler.VoucherWindowDays,
		Metrics:           metrics,
		Logger:            logger,
	})

	scheduler, err := background.NewSyncScheduler(tallyCfg, background.Dependencies{
		Runner:  syncSvc,
		State:   state,
		Locker:  locker,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create scheduler: %v", err)
	}

	var worker *jobs.Worker
	if tallyCfg.Queuing.Enabled {
		redisOpts := asynq.RedisClientOpt{
			Addr:     tallyCfg.Queuing.RedisAddr,
			Password: appCfg.RedisPassword,
			DB:       tallyCfg.Queuing.RedisDB,
		}
		asynqClient := asynq.NewClient(redisOpts)
		defer asynqClient.Close()
		scheduler.SetDispatcher(jobs.NewAsynqDispatcher(asynqClient, tallyCfg.Queuing.Queue))

		worker = jobs.NewWorker(redisOpts, tallyCfg.Queuing.Concurrency, tallyCfg.Queuing.Queue, scheduler, logger)
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start sync worker: %v", err)
		}
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	targets := []handlers.HealthCheckTarget{
		{Name: "database", Pinger: pool, Critical: true},
		{Name: "redis", Pinger: state, Critical: true},
		{Name: "tally", Pinger: handlers.PingFunc(clients.PingAll)},
	}
	if archiver != nil {
		targets = append(targets, handlers.HealthCheckTarget{Name: "storage", Pinger: archiver})
	}
	healthHandlers := handlers.NewHealthHandlers(version, targets...)

	e := newServer(appCfg)

	e.Pre(echoMiddleware.RemoveTrailingSlash())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			logger.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			}).Info("request")
			return nil
		},
	}))

	e.GET("/health", healthHandlers.HealthCheck)
	e.GET("/health/ready", healthHandlers.ReadinessCheck)
	e.GET("/health/live", healthHandlers.LivenessCheck)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	v1 := middleware.VersionRoute(e, "v1", version, middleware.TenantMiddleware(tallyCfg))
	triggerLimit := echo.WrapMiddleware(httprate.LimitByIP(appCfg.TriggerRateLimit, time.Minute))
	handlers.RegisterTallyRoutes(v1,
		handlers.NewTallyHandlers(scheduler, logger),
		handlers.NewTallyDataHandlers(repo, logger),
		triggerLimit,
	)

	go func() {
		logger.Infof("Tally sync server v%s starting on port %d", version, appCfg.Port)
		if err := e.Start(fmt.Sprintf(":%d", appCfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	if err := scheduler.Stop(); err != nil {
		logger.WithError(err).Error("Scheduler shutdown failed")
	}
	worker.Shutdown()
}

// newServer builds the echo instance. Error details reach clients only outside
// production.
func newServer(appCfg *config.AppConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Debug = !appCfg.IsProduction()
	e.Validator = handlers.NewRequestValidator()
	return e
}

// clientCache keeps one Tally client per connection
type clientCache struct {
	mu       sync.Mutex
	cfg      *config.TallyConfig
	archiver services.PayloadArchiver
	logger   logrus.FieldLogger
	clients  map[string]*tally.Client
}

func newClientCache(cfg *config.TallyConfig, archiver services.PayloadArchiver, logger logrus.FieldLogger) *clientCache {
	return &clientCache{cfg: cfg, archiver: archiver, logger: logger, clients: map[string]*tally.Client{}}
}

func (cc *clientCache) client(conn config.Connection) *tally.Client {
	key := conn.TenantID.String() + "/" + conn.Company
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if c, ok := cc.clients[key]; ok {
		return c
	}
	opts := []tally.Option{tally.WithLogger(cc.logger.WithField("company", conn.Company))}
	if cc.archiver != nil {
		opts = append(opts, tally.WithArchiver(cc.archiver, key))
	}
	c := tally.NewClient(conn.Endpoint, cc.cfg.Timeout(), opts...)
	cc.clients[key] = c
	return c
}

func (cc *clientCache) Fetcher(conn config.Connection) jobs.Fetcher {
	return cc.client(conn)
}

// PingAll checks every configured Tally server
func (cc *clientCache) PingAll(ctx context.Context) error {
	conns, err := cc.cfg.ResolveConnections()
	if err != nil {
		return err
	}
	var errs []error
	for _, conn := range conns {
		c := cc.client(conn)
		if err := c.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s at %s: %w", conn.Company, c.Endpoint(), err))
		}
	}
	return errors.Join(errs...)
}
