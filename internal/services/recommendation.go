package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/recommender"
	"github.com/temcen/venuerec/pkg/models"
)

const (
	DefaultRecommendationCount = 10
	MaxRecommendationCount     = 100
	similarCandidateLimit      = 200
)

// RecommendationService resolves candidate sets, ranks them with the engine and caches the
// result per model version.
type RecommendationService struct {
	catalog  *CatalogService
	engine   *recommender.Recommender
	graph    RatingGraph
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *logrus.Logger
}

// NewRecommendationService accepts a nil cache, which disables caching.
func NewRecommendationService(catalog *CatalogService, engine *recommender.Recommender, graph RatingGraph,
	cache *redis.Client, cacheTTL time.Duration, logger *logrus.Logger) *RecommendationService {
	return &RecommendationService{
		catalog:  catalog,
		engine:   engine,
		graph:    graph,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

func (s *RecommendationService) Recommend(ctx context.Context, req models.RecommendationRequest) (*models.RecommendationResponse, error) {
	req.Count = clampCount(req.Count)

	key := s.cacheKey(req)
	if cached, ok := s.cached(ctx, key); ok {
		return cached, nil
	}

	candidates, err := s.resolveCandidates(ctx, req)
	if err != nil {
		return nil, err
	}

	ranking, err := s.rank(ctx, req.UserID, candidates)
	if err != nil {
		return nil, err
	}
	recs, err := s.build(ctx, ranking, req.Count, req.Expand)
	if err != nil {
		return nil, err
	}

	resp := &models.RecommendationResponse{
		UserID:          req.UserID,
		Recommendations: recs,
		Degraded:        ranking.Degraded,
		ModelVersion:    ranking.Version,
		GeneratedAt:     time.Now().UTC(),
	}
	s.store(ctx, key, resp)

	s.logger.WithFields(logrus.Fields{
		"user_id":  req.UserID,
		"count":    len(recs),
		"degraded": ranking.Degraded,
		"version":  ranking.Version,
	}).Debug("Recommendations generated")
	return resp, nil
}

// SimilarTo ranks, for userID, the places co-rated with placeID in the rating graph.
func (s *RecommendationService) SimilarTo(ctx context.Context, userID, placeID int64, count int, expand bool) (*models.SimilarPlacesResponse, error) {
	if s.graph == nil {
		return nil, ErrGraphUnavailable
	}
	if _, err := s.catalog.GetPlace(ctx, placeID); err != nil {
		return nil, err
	}

	candidates, err := s.graph.CoRatedPlaces(ctx, placeID, similarCandidateLimit)
	if err != nil {
		return nil, err
	}

	resp := &models.SimilarPlacesResponse{
		UserID:          userID,
		SeedPlaceID:     placeID,
		Recommendations: []models.Recommendation{},
		ModelVersion:    s.engine.Version(),
		GeneratedAt:     time.Now().UTC(),
	}
	if len(candidates) == 0 {
		return resp, nil
	}

	ranking, err := s.rank(ctx, userID, candidates)
	if err != nil {
		return nil, err
	}
	recs, err := s.build(ctx, ranking, clampCount(count), expand)
	if err != nil {
		return nil, err
	}
	resp.Recommendations = recs
	resp.Degraded = ranking.Degraded
	resp.ModelVersion = ranking.Version
	return resp, nil
}

// resolveCandidates returns nil when every known place should be ranked.
func (s *RecommendationService) resolveCandidates(ctx context.Context, req models.RecommendationRequest) ([]int64, error) {
	if len(req.Candidates) > 0 {
		return req.Candidates, nil
	}
	if req.Type != nil || req.BBox != nil {
		ids, err := s.catalog.FilterPlaceIDs(ctx, req.Type, req.BBox)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve candidates: %w", err)
		}
		return ids, nil
	}
	return nil, nil
}

func (s *RecommendationService) rank(ctx context.Context, userID int64, candidates []int64) (*recommender.Ranking, error) {
	if candidates != nil && len(candidates) == 0 {
		return &recommender.Ranking{PlaceIDs: []int64{}, Version: s.engine.Version()}, nil
	}
	ranking, err := s.engine.Recommend(userID, candidates, func(c []int64) ([]int64, error) {
		return s.catalog.PopularPlaceIDs(ctx, c)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rank places: %w", err)
	}
	return ranking, nil
}

func (s *RecommendationService) build(ctx context.Context, ranking *recommender.Ranking, count int, expand bool) ([]models.Recommendation, error) {
	ids := ranking.PlaceIDs
	if len(ids) > count {
		ids = ids[:count]
	}

	var places map[int64]*models.Place
	if expand {
		var err error
		if places, err = s.catalog.GetPlaces(ctx, ids); err != nil {
			return nil, err
		}
	}

	recs := make([]models.Recommendation, 0, len(ids))
	for i, id := range ids {
		rec := models.Recommendation{PlaceID: id, Position: i + 1}
		if i < len(ranking.Scores) {
			score := ranking.Scores[i]
			rec.Score = &score
		}
		if places != nil {
			rec.Place = places[id]
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// cacheKey embeds the model version, so any update to the engine misses the old entries.
func (s *RecommendationService) cacheKey(req models.RecommendationRequest) string {
	params, _ := json.Marshal(struct {
		Count      int                 `json:"c"`
		Candidates []int64             `json:"ids,omitempty"`
		Type       *models.PlaceType   `json:"t,omitempty"`
		BBox       *models.BoundingBox `json:"b,omitempty"`
		Expand     bool                `json:"e"`
	}{req.Count, req.Candidates, req.Type, req.BBox, req.Expand})
	return fmt.Sprintf("recs:%d:v%d:%016x", req.UserID, s.engine.Version(), xxhash.Sum64(params))
}

func (s *RecommendationService) cached(ctx context.Context, key string) (*models.RecommendationResponse, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WithError(err).Warn("Failed to read recommendation cache")
		}
		return nil, false
	}
	var resp models.RecommendationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		s.logger.WithError(err).Warn("Discarding malformed cached recommendations")
		return nil, false
	}
	resp.CacheHit = true
	return &resp, true
}

func (s *RecommendationService) store(ctx context.Context, key string, resp *models.RecommendationResponse) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
		s.logger.WithError(err).Warn("Failed to cache recommendations")
	}
}

func clampCount(n int) int {
	switch {
	case n <= 0:
		return DefaultRecommendationCount
	case n > MaxRecommendationCount:
		return MaxRecommendationCount
	}
	return n
}
