package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"registration-service/common/logger"
	commonmetrics "registration-service/common/metrics"
	"registration-service/common/telemetry"
	"registration-service/internal/config"
	"registration-service/internal/db"
	"registration-service/internal/health"
	"registration-service/internal/kafka"
	"registration-service/internal/messaging"
	"registration-service/internal/metrics"
	"registration-service/internal/middleware"
	"registration-service/internal/registration"
	"registration-service/internal/storage"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/uptrace/bun"
)

// EventPublisher is a registration.Publisher that owns a broker connection.
type EventPublisher interface {
	registration.Publisher
	Close() error
}

type App struct {
	config    *config.Config
	router    chi.Router
	server    *http.Server
	logger    *slog.Logger
	db        *bun.DB
	telemetry *telemetry.Telemetry
	publisher EventPublisher
}

// NewLogger builds the process logger from the log section and installs it as
// the slog default.
func NewLogger(cfg *config.Config) *slog.Logger {
	l := logger.NewWithServiceContext(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}, ServiceName, Version, cfg.Env)
	slog.SetDefault(l)
	return l
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	slogLogger := NewLogger(cfg)
	slogLogger.Info("initializing application", "commit", GitCommit, "built", BuildTime)

	tel, err := telemetry.Init(ctx, ServiceName, Version, cfg.Env, telemetry.Options{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		ExportInterval: time.Duration(cfg.Telemetry.IntervalSeconds) * time.Second,
	}, slogLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	appMetrics, err := metrics.New(tel.Metrics.Meter())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize registration metrics: %w", err)
	}

	database, err := db.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := tel.Metrics.Database.RegisterDB(database.DB, tel.Metrics.Meter()); err != nil {
		slogLogger.Warn("failed to register database pool metrics", "error", err)
	}

	if err := db.RunMigrations(ctx, database, (*registration.Registration)(nil)); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	files, err := storage.NewOSFileStore(cfg.Storage.UploadDir)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to prepare upload directory: %w", err)
	}
	slogLogger.Info("upload directory ready", "dir", files.Dir())

	app := &App{
		config:    cfg,
		router:    chi.NewRouter(),
		logger:    slogLogger,
		db:        database,
		telemetry: tel,
		publisher: newPublisher(cfg.Events, slogLogger, tel.Metrics),
	}

	app.router.Use(chimiddleware.RequestID)
	app.router.Use(chimiddleware.RealIP)
	app.router.Use(chimiddleware.Recoverer)
	app.router.Use(middleware.CORS(cfg.Server.CORSOrigins))

	healthHandler := health.NewHandler(database, slogLogger, tel.Metrics.Health)
	healthHandler.RegisterRoutes(app.router)

	var opts []registration.Option
	if app.publisher != nil {
		opts = append(opts, registration.WithPublisher(app.publisher))
	}
	registrationRepo := registration.NewRepository(database, tel.Metrics)
	registrationService := registration.NewService(registrationRepo, files, slogLogger, appMetrics, opts...)
	registrationHandler := registration.NewHandler(registrationService, files, slogLogger, appMetrics, cfg.Storage.MaxUploadBytes())
	registrationHandler.RegisterRoutes(app.router)

	slogLogger.Info("application initialized successfully")

	return app, nil
}

// newPublisher connects the configured event driver. Events are best effort,
// so a broker that cannot be reached leaves the service running without one.
func newPublisher(cfg config.EventsConfig, logger *slog.Logger, m *commonmetrics.Metrics) EventPublisher {
	switch cfg.Driver {
	case "nats":
		producer, err := messaging.NewProducer(cfg.NATS.URL, cfg.NATS.Subject, logger, m.Messaging)
		if err != nil {
			logger.Warn("failed to initialize NATS producer", "error", err)
			return nil
		}
		return producer
	case "kafka":
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger, m.Messaging)
		if err != nil {
			logger.Warn("failed to initialize kafka producer", "error", err)
			return nil
		}
		return producer
	default:
		logger.Info("event publishing disabled")
		return nil
	}
}

// Migrate creates the registrations table and the upload directory, then
// releases both.
func Migrate(ctx context.Context, cfg *config.Config) error {
	slogLogger := NewLogger(cfg)

	database, err := db.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close(database)

	if err := db.RunMigrations(ctx, database, (*registration.Registration)(nil)); err != nil {
		return err
	}

	files, err := storage.NewOSFileStore(cfg.Storage.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to prepare upload directory: %w", err)
	}
	slogLogger.Info("migration finished", "upload_dir", files.Dir())
	return nil
}

func (a *App) Run() error {
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%s", a.config.Server.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(a.config.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(a.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(a.config.Server.IdleTimeout) * time.Second,
	}

	a.logger.Info("server starting", "port", a.config.Server.Port)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and then
// releases the broker, database and telemetry in that order.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down server")

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if err := a.telemetry.Shutdown(ctx, a.logger); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
