package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/messaging"
	"github.com/temcen/venuerec/internal/recommender"
	"github.com/temcen/venuerec/internal/services"
	"github.com/temcen/venuerec/pkg/models"
)

// AdminHandler drives full retraining and reports engine state.
type AdminHandler struct {
	training  *services.TrainingManager
	engine    *recommender.Recommender
	bus       *messaging.MessageBus
	validator *validator.Validate
	logger    *logrus.Logger
}

// NewAdminHandler accepts a nil bus when Kafka is disabled.
func NewAdminHandler(training *services.TrainingManager, engine *recommender.Recommender, bus *messaging.MessageBus,
	validate *validator.Validate, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		training:  training,
		engine:    engine,
		bus:       bus,
		validator: validate,
		logger:    logger,
	}
}

// Retrain accepts an optional {"reason": "..."} body.
func (h *AdminHandler) Retrain(c *gin.Context) {
	var req models.RetrainRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", "Invalid request body format")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		validationError(c, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	job, err := h.training.Start(req.Reason)
	if err != nil {
		serviceError(c, h.logger, err, "RETRAIN_FAILED")
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *AdminHandler) GetJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}
	job, err := h.training.Get(c.Request.Context(), jobID)
	if err != nil {
		serviceError(c, h.logger, err, "JOB_LOOKUP_FAILED")
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *AdminHandler) CancelJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}
	job, err := h.training.Cancel(jobID)
	if err != nil {
		serviceError(c, h.logger, err, "JOB_CANCEL_FAILED")
		return
	}
	c.JSON(http.StatusOK, job)
}

// ModelStatus is the engine summary plus review ingestion counters.
type ModelStatus struct {
	Engine    recommender.Stats      `json:"engine"`
	Ingestion map[string]interface{} `json:"ingestion,omitempty"`
}

func (h *AdminHandler) Model(c *gin.Context) {
	status := ModelStatus{Engine: h.engine.Stats()}
	if h.bus != nil {
		status.Ingestion = h.bus.GetMetrics()
	}
	c.JSON(http.StatusOK, status)
}

func jobIDParam(c *gin.Context) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JOB_ID", "Invalid job ID format")
		return uuid.Nil, false
	}
	return jobID, true
}
