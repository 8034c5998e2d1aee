package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/middleware"
	"github.com/temcen/venuerec/internal/services"
	"github.com/temcen/venuerec/pkg/models"
)

type RatingHandler struct {
	ratings   *services.RatingService
	validator *validator.Validate
	logger    *logrus.Logger
}

func NewRatingHandler(ratings *services.RatingService, validate *validator.Validate, logger *logrus.Logger) *RatingHandler {
	return &RatingHandler{
		ratings:   ratings,
		validator: validate,
		logger:    logger,
	}
}

// Create stores a rating and folds it into the model. user_id defaults to the caller; only
// admins may rate on behalf of someone else.
func (h *RatingHandler) Create(c *gin.Context) {
	var req models.RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", "Invalid request body format")
		return
	}

	if callerID, tier, ok := middleware.GetUserFromContext(c); ok {
		if req.UserID == 0 {
			req.UserID = callerID
		}
		if req.UserID != callerID && tier != services.TierAdmin {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "Cannot rate on behalf of another user")
			return
		}
	}

	if err := h.validator.Struct(&req); err != nil {
		validationError(c, err)
		return
	}

	resp, err := h.ratings.RecordRating(c.Request.Context(), req)
	if err != nil {
		serviceError(c, h.logger, err, "RATING_FAILED")
		return
	}
	c.JSON(http.StatusCreated, resp)
}
