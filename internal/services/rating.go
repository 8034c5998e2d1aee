package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/recommender"
	"github.com/temcen/venuerec/pkg/models"
)

// UpdateModeDeferred marks a stored rating the engine could not absorb; the next full fit picks
// it up from the database.
const UpdateModeDeferred = "deferred"

const (
	RatingSourceAPI       = "api"
	RatingSourceIngestion = "ingestion"
)

// RatingService stores reviews and feeds them to the engine before returning, so the next
// recommendation call already reflects the rating.
type RatingService struct {
	db      DatabaseQuerier
	catalog *CatalogService
	engine  *recommender.Recommender
	events  EventPublisher
	graph   RatingGraph
	metrics *Metrics
	logger  *logrus.Logger
}

// NewRatingService accepts nil events, graph and metrics.
func NewRatingService(db DatabaseQuerier, catalog *CatalogService, engine *recommender.Recommender,
	events EventPublisher, graph RatingGraph, metrics *Metrics, logger *logrus.Logger) *RatingService {
	return &RatingService{
		db:      db,
		catalog: catalog,
		engine:  engine,
		events:  events,
		graph:   graph,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *RatingService) RecordRating(ctx context.Context, req models.RatingRequest) (*models.RatingResponse, error) {
	if err := (recommender.Rating{UserID: req.UserID, PlaceID: req.PlaceID, Value: req.Rating}).Validate(); err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetUser(ctx, req.UserID); err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetPlace(ctx, req.PlaceID); err != nil {
		return nil, err
	}
	return s.record(ctx, RatingSourceAPI, req.UserID, req.PlaceID, req.Rating, req.Content)
}

// IngestReview stores a crawler review, creating its user and place on first sight.
func (s *RatingService) IngestReview(ctx context.Context, review models.IngestedReview) error {
	if err := (recommender.Rating{Value: review.Rating}).Validate(); err != nil {
		return err
	}
	userID, err := s.catalog.EnsureUser(ctx, review.TripadvisorUsername)
	if err != nil {
		return err
	}
	placeID, err := s.catalog.EnsurePlace(ctx, review.Place)
	if err != nil {
		return err
	}
	_, err = s.record(ctx, RatingSourceIngestion, userID, placeID, review.Rating, review.Content)
	return err
}

func (s *RatingService) record(ctx context.Context, source string, userID, placeID int64, rating int, content *string) (*models.RatingResponse, error) {
	prior, err := s.catalog.CountUserReviews(ctx, userID)
	if err != nil {
		return nil, err
	}

	review := models.Review{UserID: userID, PlaceID: placeID, Rating: rating, Content: content}
	err = s.db.QueryRow(ctx, `
		INSERT INTO reviews (user_id, place_id, rating, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		userID, placeID, rating, content,
	).Scan(&review.ID, &review.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert review: %w", err)
	}

	result := s.absorb(ctx, review, prior == 0)
	if s.metrics != nil {
		s.metrics.ObserveRating(source, result.Mode)
	}

	s.publish(ctx, review, result)
	s.mirror(ctx, review)

	s.logger.WithFields(logrus.Fields{
		"review_id": review.ID,
		"user_id":   userID,
		"place_id":  placeID,
		"source":    source,
		"mode":      result.Mode,
		"version":   result.Version,
	}).Info("Rating recorded")

	return &models.RatingResponse{
		Review:       review,
		UpdateMode:   result.Mode,
		ModelVersion: result.Version,
	}, nil
}

// absorb refits fully on a user's first rating (there is no embedding slot for them yet) and
// updates incrementally otherwise. The review is already stored, so engine failures are logged
// and reported as deferred rather than failing the request.
func (s *RatingService) absorb(ctx context.Context, review models.Review, firstRating bool) recommender.UpdateResult {
	if !firstRating {
		res, err := s.engine.FitPartial(ctx, []recommender.Rating{
			{UserID: review.UserID, PlaceID: review.PlaceID, Value: review.Rating},
		})
		if err == nil {
			return res
		}
		if !errors.Is(err, recommender.ErrNotReady) && !errors.Is(err, recommender.ErrMapperStale) {
			s.logger.WithError(err).WithField("review_id", review.ID).Error("Incremental model update failed")
			return recommender.UpdateResult{Mode: UpdateModeDeferred, Version: s.engine.Version()}
		}
	}

	if err := s.engine.Refit(ctx); err != nil {
		s.logger.WithError(err).WithField("review_id", review.ID).Error("Full model refit failed")
		return recommender.UpdateResult{Mode: UpdateModeDeferred, Version: s.engine.Version()}
	}
	return recommender.UpdateResult{Mode: recommender.ModeFull, Version: s.engine.Version()}
}

func (s *RatingService) publish(ctx context.Context, review models.Review, result recommender.UpdateResult) {
	if s.events == nil {
		return
	}
	event := models.RatingEvent{
		EventID:      uuid.New(),
		Type:         models.RatingRecordedEvent,
		ReviewID:     review.ID,
		UserID:       review.UserID,
		PlaceID:      review.PlaceID,
		Rating:       review.Rating,
		UpdateMode:   result.Mode,
		ModelVersion: result.Version,
		OccurredAt:   time.Now().UTC(),
	}
	if err := s.events.PublishRatingEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithField("review_id", review.ID).Warn("Failed to publish rating event")
	}
}

func (s *RatingService) mirror(ctx context.Context, review models.Review) {
	if s.graph == nil {
		return
	}
	if err := s.graph.RecordRating(ctx, review.UserID, review.PlaceID, review.Rating); err != nil {
		if errors.Is(err, ErrGraphUnavailable) {
			return
		}
		s.logger.WithError(err).WithField("review_id", review.ID).Warn("Failed to mirror rating into graph")
	}
}
