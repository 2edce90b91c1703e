package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/switchboard/internal/config"
	"github.com/MrSnakeDoc/switchboard/internal/httpserver"
	"github.com/MrSnakeDoc/switchboard/internal/httpserver/deps"
	"github.com/MrSnakeDoc/switchboard/internal/httpserver/mw"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/marker"
	"github.com/MrSnakeDoc/switchboard/internal/metrics"
	"github.com/MrSnakeDoc/switchboard/internal/redis"
	"github.com/MrSnakeDoc/switchboard/internal/registry"
	"github.com/MrSnakeDoc/switchboard/internal/router"
	"github.com/MrSnakeDoc/switchboard/internal/runner"
	"github.com/MrSnakeDoc/switchboard/internal/scheduler"
	"github.com/MrSnakeDoc/switchboard/internal/sources/seed"
	redisstore "github.com/MrSnakeDoc/switchboard/internal/store/redis"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
	"github.com/MrSnakeDoc/switchboard/internal/version"
)

// EventHistory is how many recent events GET /api/events returns.
const EventHistory = 256

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	mirror      *redisstore.Mirror
	supervisor  *supervisor.Supervisor
	reconciler  *scheduler.Reconciler
	gc          *scheduler.GarbageCollector
}

// New wires every component from cfg. Nothing runs until Run is called.
func New(ctx context.Context, cfg *config.Config, loggerClient logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loggerClient.Debug("configuration loaded", logger.Any("config", cfg.Redacted()))

	allowed, err := config.ParsePrefixes(cfg.AllowedCIDRS)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: loggerClient}

	// Core components also report to the recent-events log served by the API.
	events := logger.NewRecorder(EventHistory)
	coreLog := logger.Tee(loggerClient, events)

	// Redis is optional: without it messages live in memory only.
	var (
		store        *redisstore.Store
		messageStore scheduler.MessageStore
		readyCheck   func(ctx context.Context) error
		routerOpts   []router.Option
		observers    []supervisor.Observer
	)
	if cfg.RedisEnabled() {
		loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		client, err := OpenRedis(ctx, cfg, loggerClient)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		loggerClient.Info("Redis initialized successfully")

		a.redisClient = client
		store = redisstore.NewStore(client, redisstore.WithMessageTTL(cfg.RedisMessageTTL))
		a.mirror = redisstore.NewMirror(store, coreLog.With(logger.String("component", "mirror")), 0)

		messageStore = store
		readyCheck = store.Ping
		routerOpts = append(routerOpts, router.WithMirror(a.mirror))
	} else {
		loggerClient.Info("redis address not configured, messages stay in memory")
	}

	reg, err := OpenRegistry(cfg, coreLog)
	if err != nil {
		a.closeRedis()
		return nil, err
	}

	rtr := router.New(routerOpts...)
	if store != nil {
		syncer := scheduler.NewRedisSyncer(store, rtr, loggerClient)
		if _, err := syncer.Sync(ctx); err != nil {
			loggerClient.Warn("failed to restore messages from redis, starting empty",
				logger.Error(err))
		}
	}

	m := metrics.New()
	observers = append(observers,
		marker.New(cfg.MarkerFile, coreLog.With(logger.String("component", "marker"))),
		m,
	)
	if a.mirror != nil {
		observers = append(observers, a.mirror)
	}

	factory := runner.NewFactory(runner.Env{
		Router:  rtr,
		Logger:  coreLog,
		Metrics: m,
	})
	a.supervisor = supervisor.New(factory,
		supervisor.WithLogger(coreLog.With(logger.String("component", "supervisor"))),
		supervisor.WithStopGrace(cfg.StopGrace),
		supervisor.WithObservers(observers...),
	)

	a.reconciler = scheduler.NewReconciler(reg, a.supervisor, m,
		coreLog.With(logger.String("component", "reconciler")), cfg.ReconcileInterval)
	reg.OnChange(a.reconciler.Trigger)

	a.gc = scheduler.NewGarbageCollector(reg, rtr, messageStore,
		coreLog.With(logger.String("component", "gc")), cfg.GCInterval)

	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Get(),
		TimeNow:      time.Now,
		AllowedCIDRS: allowed,
		TrustProxy:   cfg.TrustProxy,
		Throttle: mw.ThrottleConfig{
			Burst:      cfg.APIRateBurst,
			PerMinute:  cfg.APIRateRefillPerMin,
			TrustProxy: cfg.TrustProxy,
		},
		Registry:   reg,
		Runtime:    a.supervisor,
		Router:     rtr,
		Metrics:    m,
		Reconciler: a.reconciler,
		ReadyCheck: readyCheck,
		Events:     events,
	}
	a.server = httpserver.New(cfg, loggerClient, d)

	return a, nil
}

// OpenRedis connects with the configured retry budget.
func OpenRedis(ctx context.Context, cfg *config.Config, loggerClient logger.Logger) (*goredis.Client, error) {
	return redis.New(ctx, redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, loggerClient)
}

// OpenRegistry loads the registry file and, when it holds no services yet,
// imports the seed file.
func OpenRegistry(cfg *config.Config, loggerClient logger.Logger) (*registry.Registry, error) {
	regLog := loggerClient.With(logger.String("component", "registry"))
	reg := registry.Open(registry.NewStore(cfg.RegistryFile, regLog), regLog)
	loggerClient.Info("registry loaded",
		logger.String("file", cfg.RegistryFile),
		logger.Int("services", reg.Len()))

	if reg.Len() > 0 || cfg.SeedFile == "" {
		return reg, nil
	}

	defs, err := seed.LoadFile(cfg.SeedFile)
	if err != nil && len(defs) == 0 {
		return nil, fmt.Errorf("failed to load seed file: %w", err)
	}
	if err != nil {
		loggerClient.Warn("seed file has invalid entries", logger.Error(err))
	}
	added, skipped, err := reg.Import(defs)
	if err != nil {
		return nil, fmt.Errorf("failed to import seed file: %w", err)
	}
	loggerClient.Info("seed imported",
		logger.String("file", cfg.SeedFile),
		logger.Int("added", added),
		logger.Strings("skipped", skipped))
	return reg, nil
}

func (a *App) Run() error {
	info := version.Get()
	a.logger.Infof("🚀 Starting Switchboard v%s on %s", info.Version, a.cfg.ListenPort)
	a.logger.Info(info.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.mirror != nil {
		a.mirror.Start(ctx)
	}

	// First pass is synchronous so services are up before the API answers.
	a.reconciler.Start(ctx)
	a.logger.Info("reconciler started",
		logger.Duration("interval", a.cfg.ReconcileInterval))

	a.gc.Start(ctx)
	a.logger.Info("garbage collector started",
		logger.Duration("interval", a.cfg.GCInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
		a.logger.Error("http server stopped unexpectedly", logger.Error(runErr))
	}

	a.reconciler.Stop()
	a.gc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.supervisor.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to stop services: %w", err))
	}
	if a.mirror != nil {
		a.mirror.Stop()
		if n := a.mirror.Dropped(); n > 0 {
			a.logger.Warn("mirror dropped updates", logger.Int("dropped", n))
		}
	}
	if err := a.server.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to stop server: %w", err))
	}
	a.closeRedis()

	if runErr != nil {
		return runErr
	}
	a.logger.Info("✅ Switchboard stopped cleanly")
	return nil
}

func (a *App) closeRedis() {
	if a.redisClient == nil {
		return
	}
	if err := a.redisClient.Close(); err != nil {
		a.logger.Warnf("failed to close redis: %v", err)
	} else {
		a.logger.Info("✅ Redis closed cleanly")
	}
}
