package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/config"
	"github.com/temcen/venuerec/pkg/models"
)

// RateLimitService is a redis sorted-set sliding window per client key.
type RateLimitService struct {
	config      config.RateLimitConfig
	logger      *logrus.Logger
	redisClient *redis.Client
}

// NewRateLimitService accepts a nil redis client, which disables limiting.
func NewRateLimitService(cfg config.RateLimitConfig, logger *logrus.Logger, redisClient *redis.Client) *RateLimitService {
	return &RateLimitService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
	}
}

func (s *RateLimitService) CheckLimit(ctx context.Context, clientKey, userTier string) (*models.RateLimitInfo, error) {
	limit := s.limitForTier(userTier)
	window := s.config.Window
	now := time.Now()

	// Permissive when Redis is absent or down
	permissive := &models.RateLimitInfo{
		Limit:     limit,
		Remaining: limit - 1,
		ResetTime: now.Add(window).Unix(),
	}
	if s.redisClient == nil || window <= 0 {
		return permissive, nil
	}

	key := fmt.Sprintf("rate_limit:%s", clientKey)
	windowStart := now.Add(-window)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipe := s.redisClient.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to execute rate limit pipeline")
		return permissive, nil
	}

	remaining := limit - int(countCmd.Val())
	if remaining < 0 {
		remaining = 0
	}
	return &models.RateLimitInfo{
		Limit:     limit,
		Remaining: remaining,
		ResetTime: now.Add(window).Unix(),
	}, nil
}

func (s *RateLimitService) IsAllowed(ctx context.Context, clientKey, userTier string) (bool, *models.RateLimitInfo, error) {
	info, err := s.CheckLimit(ctx, clientKey, userTier)
	if err != nil {
		return false, nil, err
	}
	return info.Remaining > 0, info, nil
}

func (s *RateLimitService) limitForTier(userTier string) int {
	if userTier == TierAdmin {
		return s.config.Premium
	}
	return s.config.Default
}
