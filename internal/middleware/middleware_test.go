package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/venuerec/internal/config"
	"github.com/temcen/venuerec/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testAuthService() *services.AuthService {
	return services.NewAuthService(config.AuthConfig{
		JWTSecret:   "test-secret",
		TokenTTL:    time.Hour,
		AdminEmails: []string{"admin@example.com"},
	}, nil, testLogger(), nil)
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestAuth(t *testing.T) {
	auth := testAuthService()
	router := gin.New()
	router.GET("/me", Auth(auth, testLogger()), func(c *gin.Context) {
		userID, tier, ok := GetUserFromContext(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "tier": tier, "ok": ok})
	})
	router.GET("/admin", Auth(auth, testLogger()), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	userToken, _, err := auth.GenerateToken(context.Background(), 3, "ivan@example.com")
	require.NoError(t, err)
	adminToken, _, err := auth.GenerateToken(context.Background(), 1, "admin@example.com")
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		status int
		code   string
	}{
		{"missing header", "/me", "", http.StatusUnauthorized, "MISSING_AUTHORIZATION"},
		{"wrong scheme", "/me", "Basic abc", http.StatusUnauthorized, "INVALID_AUTHORIZATION_FORMAT"},
		{"bad token", "/me", "Bearer not.a.token", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"valid token", "/me", "Bearer " + userToken, http.StatusOK, ""},
		{"admin route as user", "/admin", "Bearer " + userToken, http.StatusForbidden, "FORBIDDEN"},
		{"admin route as admin", "/admin", "Bearer " + adminToken, http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, w))
			}
		})
	}

	t.Run("context carries claims", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+userToken)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		var body struct {
			UserID int64  `json:"user_id"`
			Tier   string `json:"tier"`
			OK     bool   `json:"ok"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, int64(3), body.UserID)
		assert.Equal(t, services.TierFree, body.Tier)
		assert.True(t, body.OK)
	})
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestID)) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(generated)
	require.NoError(t, err)
	assert.Equal(t, generated, w.Body.String())

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, incoming)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, incoming, w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.NotEqual(t, "<script>", w.Header().Get(RequestIDHeader))
}

func TestRateLimitWithoutRedis(t *testing.T) {
	limiter := services.NewRateLimitService(config.RateLimitConfig{Default: 50, Premium: 500, Window: time.Minute}, testLogger(), nil)
	router := gin.New()
	router.Use(RateLimit(limiter, testLogger()))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "50", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "49", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Logger(testLogger()), Recovery(testLogger()))
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", errorCode(t, w))
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS(config.CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Authorization"},
	}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://example.org")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
