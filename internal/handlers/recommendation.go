package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/services"
	"github.com/temcen/venuerec/pkg/models"
)

type RecommendationHandler struct {
	recommendations *services.RecommendationService
	validator       *validator.Validate
	logger          *logrus.Logger
}

func NewRecommendationHandler(recommendations *services.RecommendationService, validate *validator.Validate, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		recommendations: recommendations,
		validator:       validate,
		logger:          logger,
	}
}

// Get ranks places for a user. Candidates come from ?candidates=, else from the type and
// bounding-box filter, else every known place.
func (h *RecommendationHandler) Get(c *gin.Context) {
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	req := models.RecommendationRequest{
		UserID: userID,
		Expand: c.Query("expand") == "true",
	}

	var err error
	if req.Count, err = queryInt(c, "count", services.DefaultRecommendationCount); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	if req.Candidates, err = queryIDs(c, "candidates"); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_CANDIDATES", err.Error())
		return
	}
	if req.Type, err = queryPlaceType(c); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PLACE_TYPE", err.Error())
		return
	}
	if req.BBox, err = queryBBox(c); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_BOUNDING_BOX", err.Error())
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		validationError(c, err)
		return
	}

	resp, err := h.recommendations.Recommend(c.Request.Context(), req)
	if err != nil {
		serviceError(c, h.logger, err, "RECOMMENDATION_FAILED")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RecommendationHandler) GetSimilar(c *gin.Context) {
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	placeID, ok := pathID(c, "placeId")
	if !ok {
		return
	}

	count, err := queryInt(c, "count", services.DefaultRecommendationCount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	if count < 1 || count > services.MaxRecommendationCount {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", "count must be between 1 and 100")
		return
	}

	resp, err := h.recommendations.SimilarTo(c.Request.Context(), userID, placeID, count, c.Query("expand") == "true")
	if err != nil {
		serviceError(c, h.logger, err, "RECOMMENDATION_FAILED")
		return
	}
	c.JSON(http.StatusOK, resp)
}
