package services

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/config"
	"github.com/temcen/venuerec/internal/recommender"
)

// EngineConfig translates the recommender section of the configuration.
func EngineConfig(cfg config.RecommenderConfig) (recommender.Config, error) {
	loss, err := recommender.ParseLoss(cfg.Loss)
	if err != nil {
		return recommender.Config{}, err
	}
	combiner, err := recommender.ParseCombiner(cfg.Combiner)
	if err != nil {
		return recommender.Config{}, err
	}
	return recommender.Config{
		Model: recommender.ModelParams{
			Components:     cfg.Components,
			Loss:           loss,
			LearningRate:   cfg.LearningRate,
			Regularization: cfg.Regularization,
			MaxSampled:     cfg.MaxSampled,
			Seed:           cfg.Seed,
		},
		PositiveEpochs: cfg.PositiveEpochs,
		NegativeEpochs: cfg.NegativeEpochs,
		Combiner:       combiner,
	}, nil
}

// NewSnapshotStore picks the file store or the cold redis instance.
func NewSnapshotStore(cfg config.SnapshotConfig, cold *redis.Client) (recommender.SnapshotStore, error) {
	switch cfg.Backend {
	case "", "file":
		return recommender.NewFileStore(cfg.Path), nil
	case "redis":
		if cold == nil {
			return nil, fmt.Errorf("snapshot backend redis requires the cold redis instance")
		}
		return recommender.NewRedisStore(cold, cfg.RedisKey), nil
	}
	return nil, fmt.Errorf("unsupported snapshot backend %q", cfg.Backend)
}

// NewEngine builds the recommender with the catalog as its training source.
func NewEngine(cfg config.RecommenderConfig, catalog *CatalogService, cold *redis.Client, metrics *Metrics,
	logger *logrus.Logger) (*recommender.Recommender, error) {
	engineCfg, err := EngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := NewSnapshotStore(cfg.Snapshot, cold)
	if err != nil {
		return nil, err
	}

	opts := []recommender.Option{recommender.WithSource(catalog)}
	if metrics != nil {
		opts = append(opts, recommender.WithObserver(metrics))
	}
	return recommender.New(engineCfg, store, logger, opts...), nil
}
