package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/temcen/venuerec/internal/config"
	"github.com/temcen/venuerec/pkg/models"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:   "test-secret",
		TokenTTL:    time.Hour,
		BcryptCost:  bcrypt.MinCost,
		AdminEmails: []string{"Admin@Example.com"},
	}
}

func TestAuthService_Register(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	svc := NewAuthService(testAuthConfig(), mock, testLogger(), nil)

	t.Run("creates user and issues token", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO users \\(email, password, tripadvisor_username\\)").
			WithArgs("ivan@example.com", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(5), time.Now()))

		resp, err := svc.Register(context.Background(), models.RegisterRequest{
			Email:    " Ivan@Example.com",
			Password: "correct horse",
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())

		assert.Equal(t, int64(5), resp.User.ID)
		assert.Equal(t, "ivan@example.com", resp.User.Email)
		require.NoError(t, bcrypt.CompareHashAndPassword([]byte(resp.User.PasswordHash), []byte("correct horse")))

		claims, err := svc.ValidateToken(context.Background(), resp.Token)
		require.NoError(t, err)
		assert.Equal(t, int64(5), claims.UserID)
		assert.Equal(t, TierFree, claims.UserTier)
		assert.WithinDuration(t, time.Now().Add(time.Hour), resp.ExpiresAt, time.Minute)
	})

	t.Run("duplicate email", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO users").
			WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

		_, err := svc.Register(context.Background(), models.RegisterRequest{Email: "ivan@example.com", Password: "correct horse"})
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("database failure", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO users").WillReturnError(errors.New("connection reset"))

		_, err := svc.Register(context.Background(), models.RegisterRequest{Email: "ivan@example.com", Password: "correct horse"})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrEmailTaken)
	})
}

func TestAuthService_Login(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	svc := NewAuthService(testAuthConfig(), mock, testLogger(), nil)
	hash, err := bcrypt.GenerateFromPassword([]byte("letmein123"), bcrypt.MinCost)
	require.NoError(t, err)

	expectLogin := func(email, password string) {
		mock.ExpectQuery("SELECT (.+) FROM users WHERE email = \\$1").
			WithArgs(email).
			WillReturnRows(pgxmock.NewRows(userCols).AddRow(int64(1), email, password, (*string)(nil), time.Now()))
	}

	t.Run("admin login", func(t *testing.T) {
		expectLogin("admin@example.com", string(hash))

		resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "ADMIN@example.com", Password: "letmein123"})
		require.NoError(t, err)

		claims, err := svc.ValidateToken(context.Background(), resp.Token)
		require.NoError(t, err)
		assert.Equal(t, TierAdmin, claims.UserTier)
		assert.Equal(t, "1", claims.Subject)
	})

	t.Run("wrong password", func(t *testing.T) {
		expectLogin("ivan@example.com", string(hash))
		_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ivan@example.com", Password: "nope"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("crawled account without password", func(t *testing.T) {
		expectLogin("gourmand@tripadvisor.invalid", "")
		_, err := svc.Login(context.Background(), models.LoginRequest{Email: "gourmand@tripadvisor.invalid", Password: "anything"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM users WHERE email = \\$1").
			WithArgs("nobody@example.com").
			WillReturnRows(pgxmock.NewRows(userCols))
		_, err := svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "anything"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthService_ValidateToken(t *testing.T) {
	svc := NewAuthService(testAuthConfig(), nil, testLogger(), nil)

	token, _, err := svc.GenerateToken(context.Background(), 9, "someone@example.com")
	require.NoError(t, err)
	_, err = svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)

	t.Run("foreign secret", func(t *testing.T) {
		cfg := testAuthConfig()
		cfg.JWTSecret = "other"
		other := NewAuthService(cfg, nil, testLogger(), nil)
		_, err := other.ValidateToken(context.Background(), token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		past := time.Now().Add(-2 * time.Hour)
		claims := &models.JWTClaims{
			UserID: 9,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    tokenIssuer,
				IssuedAt:  jwt.NewNumericDate(past),
				ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
			},
		}
		expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = svc.ValidateToken(context.Background(), expired)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := &models.JWTClaims{UserID: 9, RegisteredClaims: jwt.RegisteredClaims{Issuer: "elsewhere"}}
		foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = svc.ValidateToken(context.Background(), foreign)
		assert.Error(t, err)
	})

	assert.NoError(t, svc.RevokeToken(context.Background(), 9))
}

func TestAuthService_CheckSession(t *testing.T) {
	svc := NewAuthService(testAuthConfig(), nil, testLogger(), nil)

	first, _, err := svc.GenerateToken(context.Background(), 9, "someone@example.com")
	require.NoError(t, err)
	latest, _, err := svc.GenerateToken(context.Background(), 9, "someone@elsewhere.com")
	require.NoError(t, err)
	require.NotEqual(t, first, latest)

	assert.NoError(t, svc.checkSession(latest, nil, latest))
	assert.ErrorIs(t, svc.checkSession(latest, nil, first), ErrSessionSuperseded)
	assert.ErrorIs(t, svc.checkSession("", redis.Nil, latest), ErrSessionNotFound)
	assert.NoError(t, svc.checkSession("", errors.New("connection refused"), latest))
}
