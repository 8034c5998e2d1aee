package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/recommender"
	"github.com/temcen/venuerec/internal/services"
)

type Handlers struct {
	Health         *HealthHandler
	Metrics        *MetricsHandler
	Auth           *AuthHandler
	Catalog        *CatalogHandler
	Recommendation *RecommendationHandler
	Rating         *RatingHandler
	Admin          *AdminHandler
}

func New(logger *logrus.Logger, svc *services.Services, gatherer prometheus.Gatherer) *Handlers {
	validate := validator.New()
	return &Handlers{
		Health:         NewHealthHandler(logger, svc.Health),
		Metrics:        NewMetricsHandler(gatherer),
		Auth:           NewAuthHandler(svc.Auth, validate, logger),
		Catalog:        NewCatalogHandler(svc.Catalog, validate, logger),
		Recommendation: NewRecommendationHandler(svc.Recommendations, validate, logger),
		Rating:         NewRatingHandler(svc.Ratings, validate, logger),
		Admin:          NewAdminHandler(svc.Training, svc.Engine, svc.MessageBus, validate, logger),
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// serviceError maps service sentinels to HTTP statuses; anything unrecognised is a 500 with fallbackCode.
func serviceError(c *gin.Context, logger *logrus.Logger, err error, fallbackCode string) {
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		respondError(c, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
	case errors.Is(err, services.ErrPlaceNotFound):
		respondError(c, http.StatusNotFound, "PLACE_NOT_FOUND", "Place not found")
	case errors.Is(err, services.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	case errors.Is(err, services.ErrJobNotFound):
		respondError(c, http.StatusNotFound, "JOB_NOT_FOUND", "Training job not found")
	case errors.Is(err, recommender.ErrInvalidRating):
		respondError(c, http.StatusBadRequest, "INVALID_RATING", "Rating must be between 1 and 5")
	case errors.Is(err, services.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
	case errors.Is(err, services.ErrEmailTaken):
		respondError(c, http.StatusConflict, "EMAIL_TAKEN", "Email is already registered")
	case errors.Is(err, services.ErrTrainingInProgress):
		respondError(c, http.StatusConflict, "TRAINING_IN_PROGRESS", "A training job is already running")
	case errors.Is(err, services.ErrJobFinished):
		respondError(c, http.StatusConflict, "JOB_FINISHED", "Training job has already finished")
	case errors.Is(err, services.ErrGraphUnavailable):
		respondError(c, http.StatusServiceUnavailable, "GRAPH_UNAVAILABLE", "Similar places are temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out")
	default:
		logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		respondError(c, http.StatusInternalServerError, fallbackCode, "Internal server error")
	}
}

// validationError reports the first failing field of a validator error.
func validationError(c *gin.Context, err error) {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED",
			"Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' rule")
		return
	}
	respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
}

func pathID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Path parameter '"+param+"' must be a positive integer")
		return 0, false
	}
	return id, true
}
