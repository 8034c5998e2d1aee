package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/config"
	"github.com/temcen/venuerec/internal/database"
	"github.com/temcen/venuerec/internal/handlers"
	"github.com/temcen/venuerec/internal/middleware"
	"github.com/temcen/venuerec/internal/services"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine

	stopConsumer context.CancelFunc
	consumers    sync.WaitGroup
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	// Initialize services
	svc, err := services.New(cfg, app.logger, db, prometheus.DefaultRegisterer)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc

	app.handlers = handlers.New(app.logger, svc, prometheus.DefaultGatherer)
	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Logger() *logrus.Logger {
	return a.logger
}

// Start restores or trains the model, then begins consuming crawler reviews when Kafka is up.
func (a *App) Start(ctx context.Context) error {
	if err := a.services.Training.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap recommender: %w", err)
	}
	a.logger.WithFields(logrus.Fields{
		"version": a.services.Engine.Version(),
		"ready":   a.services.Engine.Ready(),
	}).Info("Recommender bootstrapped")

	bus := a.services.MessageBus
	if bus == nil {
		return nil
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	a.stopConsumer = cancel
	a.consumers.Add(1)
	go func() {
		defer a.consumers.Done()
		err := bus.ConsumeReviews(consumerCtx, a.services.Ratings.IngestReview)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(err).Error("Review consumer stopped")
		}
	}()
	a.logger.WithField("topic", a.config.Kafka.Topics.ReviewIngestion).Info("Review consumer started")
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.stopConsumer != nil {
		a.stopConsumer()
	}
	done := make(chan struct{})
	go func() {
		a.consumers.Wait()
		a.services.Training.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("Background workers did not stop before the shutdown deadline")
	}

	var errs []error
	if bus := a.services.MessageBus; bus != nil {
		if err := bus.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing message bus")
			errs = append(errs, err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	a.router = newRouter(a.config, a.logger, a.services, a.handlers)
}

func newRouter(cfg *config.Config, logger *logrus.Logger, svc *services.Services, h *handlers.Handlers) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.Security.CORS))

	// Health check and metrics (no auth required)
	router.GET("/health", h.Health.Check)
	if cfg.Monitoring.Enabled {
		router.GET(cfg.Monitoring.MetricsPath, h.Metrics.Serve)
	}

	authenticate := middleware.Auth(svc.Auth, logger)
	rateLimit := middleware.RateLimit(svc.RateLimit, logger)

	api := router.Group("/api/v1")

	// Public routes are limited per client IP
	public := api.Group("", rateLimit)
	{
		public.POST("/auth/register", h.Auth.Register)
		public.POST("/auth/login", h.Auth.Login)

		public.GET("/places/search", h.Catalog.SearchPlaces)
		public.GET("/places/:id", h.Catalog.GetPlace)
		public.GET("/users/:id", h.Catalog.GetUser)
		public.GET("/reviews/:id", h.Catalog.GetReview)

		public.GET("/recommendations/:userId", h.Recommendation.Get)
		public.GET("/recommendations/:userId/similar/:placeId", h.Recommendation.GetSimilar)
	}

	// Authenticated routes are limited per user
	protected := api.Group("", authenticate, rateLimit)
	{
		protected.POST("/auth/logout", h.Auth.Logout)
		protected.POST("/ratings", h.Rating.Create)

		admin := protected.Group("/admin", middleware.RequireAdmin())
		{
			admin.POST("/retrain", h.Admin.Retrain)
			admin.GET("/retrain/:jobId", h.Admin.GetJob)
			admin.DELETE("/retrain/:jobId", h.Admin.CancelJob)
			admin.GET("/model", h.Admin.Model)
		}
	}

	return router
}
