package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/services"
)

type HealthHandler struct {
	logger        *logrus.Logger
	healthService *services.HealthService
}

func NewHealthHandler(logger *logrus.Logger, healthService *services.HealthService) *HealthHandler {
	return &HealthHandler{
		logger:        logger,
		healthService: healthService,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	status := h.healthService.CheckHealth(c.Request.Context())

	var httpStatus int
	switch status.Status {
	case services.StatusHealthy, services.StatusDegraded:
		httpStatus = http.StatusOK
	case services.StatusUnhealthy:
		httpStatus = http.StatusServiceUnavailable
	default:
		httpStatus = http.StatusInternalServerError
	}

	c.JSON(httpStatus, status)
}

// MetricsHandler exposes the prometheus registry the services registered with.
type MetricsHandler struct {
	handler http.Handler
}

func NewMetricsHandler(gatherer prometheus.Gatherer) *MetricsHandler {
	return &MetricsHandler{
		handler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}
}

func (h *MetricsHandler) Serve(c *gin.Context) {
	h.handler.ServeHTTP(c.Writer, c.Request)
}
