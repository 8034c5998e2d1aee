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

type AuthHandler struct {
	auth      *services.AuthService
	validator *validator.Validate
	logger    *logrus.Logger
}

func NewAuthHandler(auth *services.AuthService, validate *validator.Validate, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		auth:      auth,
		validator: validate,
		logger:    logger,
	}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", "Invalid request body format")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		validationError(c, err)
		return
	}

	resp, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		serviceError(c, h.logger, err, "REGISTRATION_FAILED")
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", "Invalid request body format")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		validationError(c, err)
		return
	}

	resp, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		serviceError(c, h.logger, err, "LOGIN_FAILED")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Logout drops the caller's session; it must run behind middleware.Auth.
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, _, ok := middleware.GetUserFromContext(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}
	if err := h.auth.RevokeToken(c.Request.Context(), userID); err != nil {
		serviceError(c, h.logger, err, "LOGOUT_FAILED")
		return
	}
	c.Status(http.StatusNoContent)
}
