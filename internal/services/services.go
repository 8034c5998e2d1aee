package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/config"
	"github.com/temcen/venuerec/internal/database"
	"github.com/temcen/venuerec/internal/messaging"
	"github.com/temcen/venuerec/internal/recommender"
	"github.com/temcen/venuerec/internal/validation"
)

type Services struct {
	Engine          *recommender.Recommender
	Catalog         *CatalogService
	Recommendations *RecommendationService
	Ratings         *RatingService
	Training        *TrainingManager
	Auth            *AuthService
	RateLimit       *RateLimitService
	Health          *HealthService
	Metrics         *Metrics
	Graph           *Neo4jGraph
	MessageBus      *messaging.MessageBus // nil when Kafka is not configured
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) (*Services, error) {
	metrics := NewMetrics(reg, logger)
	catalog := NewCatalogService(db.PG, logger)
	graph := NewNeo4jGraph(db.Neo4j, logger)

	engine, err := NewEngine(cfg.Recommender, catalog, db.Redis.Cold, metrics, logger)
	if err != nil {
		return nil, err
	}

	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	messageBus, err := messaging.NewMessageBus(cfg, validator, logger)
	if err != nil {
		logger.WithError(err).Warn("Kafka disabled, rating events will not be published")
		messageBus = nil
	}

	var events EventPublisher
	if messageBus != nil {
		events = messageBus
	}
	var ratingGraph RatingGraph
	if graph.Available() {
		ratingGraph = graph
	}

	return &Services{
		Engine:          engine,
		Catalog:         catalog,
		Recommendations: NewRecommendationService(catalog, engine, ratingGraph, db.Redis.Warm, cfg.Cache.RecommendationsTTL, logger),
		Ratings:         NewRatingService(db.PG, catalog, engine, events, ratingGraph, metrics, logger),
		Training:        NewTrainingManager(engine, db.Redis.Warm, cfg.Recommender.Training.Timeout, cfg.Recommender.Training.JobTTL, logger),
		Auth:            NewAuthService(cfg.Auth, db.PG, logger, db.Redis.Hot),
		RateLimit:       NewRateLimitService(cfg.Auth.RateLimit, logger, db.Redis.Hot),
		Health:          NewHealthService(DatabaseProbes(db, messageBus), engine, reg, logger),
		Metrics:         metrics,
		Graph:           graph,
		MessageBus:      messageBus,
	}, nil
}
