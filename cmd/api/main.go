package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/aster/config"
	"github.com/Ramsey-B/aster/internal/handlers"
	"github.com/Ramsey-B/aster/internal/repositories/conversation"
	"github.com/Ramsey-B/aster/internal/repositories/installation"
	"github.com/Ramsey-B/aster/internal/repositories/message"
	"github.com/Ramsey-B/aster/pkg/auth"
	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/directory"
	"github.com/Ramsey-B/aster/pkg/enrichment"
	"github.com/Ramsey-B/aster/pkg/events"
	"github.com/Ramsey-B/aster/pkg/health"
	"github.com/Ramsey-B/aster/pkg/middleware"
	"github.com/Ramsey-B/aster/pkg/redis"
	"github.com/Ramsey-B/aster/pkg/startup"
	"github.com/Ramsey-B/aster/pkg/sync"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/Ramsey-B/aster/pkg/zendesk"
)

// version is stamped at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	zapLogger, err := buildZapLogger(cfg)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	// A short signing key is misconfiguration, not a transient fault. Refuse
	// to start instead of handing it to the retry loop.
	if len(cfg.AuthSigningKey) < auth.MinSigningKeyBytes {
		log.Fatalf("AUTH_SIGNING_KEY must be at least %d bytes", auth.MinSigningKeyBytes)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otlpEndpoint := ""
	if cfg.OTLPEnabled {
		otlpEndpoint = cfg.OTLPEndpoint
	}
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    cfg.AppName,
		ServiceVersion: version,
		Endpoint:       otlpEndpoint,
		Protocol:       cfg.OTLPProtocol,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		log.Fatalf("setting up tracing: %v", err)
	}

	app := &application{
		cfg:     cfg,
		logger:  logger,
		httpErr: make(chan error, 1),
	}

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&dependency{name: "database", start: app.startDatabase, stop: app.stopDatabase})
	boot.AddDependency(&dependency{name: "redis", start: app.startRedis, stop: app.stopRedis})
	boot.AddDependency(&dependency{name: "kafka", start: app.startKafka, stop: app.stopKafka})
	boot.AddDependency(&dependency{
		name:      "http",
		dependsOn: []string{"database", "redis", "kafka"},
		start:     app.startHTTP,
		stop:      app.stopHTTP,
	})

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}

	logger.Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-app.httpErr:
		logger.WithError(err).Error("HTTP server stopped unexpectedly")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := boot.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
	if err := shutdownTracing(stopCtx); err != nil {
		logger.WithError(err).Error("Tracing shutdown failed")
	}
}

func buildZapLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zapCfg.Build()
}

// application holds the service resources managed by the startup graph.
type application struct {
	cfg    *config.Config
	logger ectologger.Logger

	sqlDB     *sqlx.DB
	db        database.DB
	redis     *redis.Client
	publisher *events.Publisher
	checker   *health.Checker
	server    *echo.Echo
	httpErr   chan error
}

func (a *application) startDatabase(ctx context.Context) error {
	sqlDB, err := database.Connect(ctx, database.ConnectionConfig{
		Driver:          a.cfg.DatabaseDriver,
		Host:            a.cfg.DatabaseHost,
		Port:            a.cfg.DatabasePort,
		UserName:        a.cfg.DatabaseUserName,
		Password:        a.cfg.DatabasePassword,
		Name:            a.cfg.DatabaseName,
		SSLMode:         a.cfg.DatabaseSSLMode,
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	})
	if err != nil {
		return err
	}

	migrationConfig := &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	}
	if err := database.RunMigrations(a.logger, sqlDB, a.cfg.DatabaseName, migrationConfig); err != nil {
		_ = sqlDB.Close()
		return err
	}

	a.sqlDB = sqlDB
	a.db = database.NewDatabaseInstance(sqlDB, a.logger)
	return nil
}

func (a *application) stopDatabase(context.Context) error {
	if a.sqlDB == nil {
		return nil
	}
	return a.sqlDB.Close()
}

func (a *application) startRedis(context.Context) error {
	client, err := redis.NewClient(redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	return nil
}

func (a *application) stopRedis(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *application) startKafka(context.Context) error {
	publisher, err := events.NewPublisher(events.PublisherConfig{
		Brokers:      a.cfg.KafkaBrokers,
		Topic:        a.cfg.KafkaEventsTopic,
		BatchSize:    a.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: a.cfg.KafkaRequiredAcks,
		WriteTimeout: time.Duration(a.cfg.KafkaWriteTimeout) * time.Second,
		Compression:  a.cfg.KafkaCompression,
	}, a.logger)
	if err != nil {
		return err
	}
	a.publisher = publisher
	return nil
}

func (a *application) stopKafka(context.Context) error {
	if a.publisher == nil {
		return nil
	}
	return a.publisher.Close()
}

func (a *application) startHTTP(context.Context) error {
	installations := installation.NewRepository(a.db, a.logger)
	conversations := conversation.NewRepository(a.db, a.logger)
	messages := message.NewRepository(a.db, a.logger)

	dir := directory.NewDirectory(installations, a.redis, a.logger)

	authority, err := auth.NewAuthority(a.cfg.AuthSigningKey, dir, auth.NewRedisCodeRegistry(a.redis), a.logger)
	if err != nil {
		return err
	}

	classifier := zendesk.NewClassifier(a.logger)
	emitter := events.NewEmitter(a.publisher, a.logger)
	triggers := enrichment.NewTriggers(emitter, a.logger)
	synchronizer := sync.NewSynchronizer(conversations, messages, emitter, triggers, a.logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = a.cfg.MaxHeaderBytes

	e.Use(middleware.Context())
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Logger(a.logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))
	e.HTTPErrorHandler = middleware.Error(a.logger)

	// Public surface: webhook ingress and the installation handshake
	handlers.NewWebhookHandler(dir, classifier, synchronizer, a.cfg.WebhookTimeout, a.logger).RegisterRoutes(e)
	handlers.NewAuthHandler(authority, a.cfg.AuthRedirectURL, a.logger).RegisterRoutes(e)

	// Admin surface, optionally behind OIDC
	api := e.Group("/api/v1")
	if a.cfg.AuthEnabled {
		api.Use(middleware.Authentication(a.logger, a.cfg.AuthIssuerURL, a.cfg.AuthClientID))
	}
	handlers.NewInstallationHandler(dir, authority, a.logger).RegisterRoutes(api)

	// App surface, authenticated with installation access tokens
	appGroup := e.Group("/api/v1/app", middleware.InstallationAuth(a.logger, authority))
	handlers.NewConversationHandler(conversations, messages, a.logger).RegisterRoutes(appGroup)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	a.checker = health.NewChecker(a.db, a.redis, a.publisher, version)
	a.checker.RegisterRoutes(e)

	a.server = e
	go func() {
		if err := e.Start(fmt.Sprintf(":%d", a.cfg.Port)); err != nil && err != http.ErrServerClosed {
			a.httpErr <- err
		}
	}()

	a.checker.SetReady(true)
	return nil
}

func (a *application) stopHTTP(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	if a.checker != nil {
		a.checker.SetReady(false)
	}
	return a.server.Shutdown(ctx)
}

// dependency adapts start/stop funcs to the startup graph.
type dependency struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (d *dependency) GetName() string { return d.name }

func (d *dependency) DependsOn() []string { return d.dependsOn }

func (d *dependency) Start(ctx context.Context) error { return d.start(ctx) }

func (d *dependency) Stop(ctx context.Context) error {
	if d.stop == nil {
		return nil
	}
	return d.stop(ctx)
}
