package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/venuerec/internal/config"
	"github.com/temcen/venuerec/internal/handlers"
	"github.com/temcen/venuerec/internal/recommender"
	"github.com/temcen/venuerec/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRouter(t *testing.T) (*gin.Engine, *services.AuthService) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{}
	cfg.Monitoring.Enabled = true
	cfg.Monitoring.MetricsPath = "/metrics"
	cfg.Security.CORS.AllowedOrigins = []string{"*"}
	cfg.Auth = config.AuthConfig{
		JWTSecret:   "test-secret",
		TokenTTL:    time.Hour,
		AdminEmails: []string{"admin@example.com"},
		RateLimit:   config.RateLimitConfig{Default: 100, Premium: 1000, Window: time.Minute},
	}

	registry := prometheus.NewRegistry()
	engine := recommender.New(recommender.DefaultConfig(), nil, logger)
	training := services.NewTrainingManager(engine, nil, time.Minute, time.Hour, logger)
	t.Cleanup(training.Shutdown)

	auth := services.NewAuthService(cfg.Auth, nil, logger, nil)
	svc := &services.Services{
		Engine:    engine,
		Training:  training,
		Auth:      auth,
		RateLimit: services.NewRateLimitService(cfg.Auth.RateLimit, logger, nil),
		Health:    services.NewHealthService(nil, engine, registry, logger),
		Metrics:   services.NewMetrics(registry, logger),
	}
	return newRouter(cfg, logger, svc, handlers.New(logger, svc, registry)), auth
}

func do(router *gin.Engine, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicEndpoints(t *testing.T) {
	router, _ := testRouter(t)

	w := do(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "venuerec_model_version")
}

func TestRouter_ProtectedEndpoints(t *testing.T) {
	router, auth := testRouter(t)

	userToken, _, err := auth.GenerateToken(context.Background(), 2, "ivan@example.com")
	require.NoError(t, err)
	adminToken, _, err := auth.GenerateToken(context.Background(), 1, "admin@example.com")
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		target string
		token  string
		status int
	}{
		{"rating needs a token", http.MethodPost, "/api/v1/ratings", "", http.StatusUnauthorized},
		{"logout needs a token", http.MethodPost, "/api/v1/auth/logout", "", http.StatusUnauthorized},
		{"logout with token", http.MethodPost, "/api/v1/auth/logout", userToken, http.StatusNoContent},
		{"admin needs admin tier", http.MethodGet, "/api/v1/admin/model", userToken, http.StatusForbidden},
		{"admin model", http.MethodGet, "/api/v1/admin/model", adminToken, http.StatusOK},
		{"unknown job", http.MethodGet, "/api/v1/admin/retrain/00000000-0000-0000-0000-000000000001", adminToken, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, tt.method, tt.target, tt.token)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestRouter_RateLimitHeadersOnPublicRoutes(t *testing.T) {
	router, _ := testRouter(t)

	w := do(router, http.MethodGet, "/api/v1/places/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
}
