package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/services"
	"github.com/temcen/venuerec/pkg/models"
)

const defaultSearchLimit = 50

// CatalogHandler serves place, user and review lookups and place search.
type CatalogHandler struct {
	catalog   *services.CatalogService
	validator *validator.Validate
	logger    *logrus.Logger
}

func NewCatalogHandler(catalog *services.CatalogService, validate *validator.Validate, logger *logrus.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog:   catalog,
		validator: validate,
		logger:    logger,
	}
}

func (h *CatalogHandler) GetPlace(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	place, err := h.catalog.GetPlace(c.Request.Context(), id)
	if err != nil {
		serviceError(c, h.logger, err, "PLACE_LOOKUP_FAILED")
		return
	}
	c.JSON(http.StatusOK, place)
}

func (h *CatalogHandler) GetUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	user, err := h.catalog.GetUser(c.Request.Context(), id)
	if err != nil {
		serviceError(c, h.logger, err, "USER_LOOKUP_FAILED")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *CatalogHandler) GetReview(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	review, err := h.catalog.GetReview(c.Request.Context(), id)
	if err != nil {
		serviceError(c, h.logger, err, "REVIEW_LOOKUP_FAILED")
		return
	}
	c.JSON(http.StatusOK, review)
}

func (h *CatalogHandler) SearchPlaces(c *gin.Context) {
	req := models.PlaceSearchRequest{Query: c.Query("q")}

	var err error
	if req.Type, err = queryPlaceType(c); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PLACE_TYPE", err.Error())
		return
	}
	if req.BBox, err = queryBBox(c); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_BOUNDING_BOX", err.Error())
		return
	}
	if req.Limit, err = queryInt(c, "limit", defaultSearchLimit); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		validationError(c, err)
		return
	}

	places, err := h.catalog.SearchPlaces(c.Request.Context(), req)
	if err != nil {
		serviceError(c, h.logger, err, "PLACE_SEARCH_FAILED")
		return
	}
	c.JSON(http.StatusOK, models.PlaceSearchResponse{Places: places, Total: len(places)})
}
