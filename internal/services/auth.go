package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/temcen/venuerec/internal/config"
	"github.com/temcen/venuerec/pkg/models"
)

const (
	TierFree  = "free"
	TierAdmin = "admin"

	tokenIssuer = "github.com/temcen/venuerec"
)

type AuthService struct {
	config      config.AuthConfig
	db          DatabaseQuerier
	logger      *logrus.Logger
	redisClient *redis.Client
	jwtSecret   []byte
}

// NewAuthService accepts a nil redis client, in which case tokens are not tied to sessions.
func NewAuthService(cfg config.AuthConfig, db DatabaseQuerier, logger *logrus.Logger, redisClient *redis.Client) *AuthService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &AuthService{
		config:      cfg,
		db:          db,
		logger:      logger,
		redisClient: redisClient,
		jwtSecret:   []byte(cfg.JWTSecret),
	}
}

func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	email := normalizeEmail(req.Email)
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{Email: email, PasswordHash: string(hash), TripadvisorUsername: req.TripadvisorUsername}
	err = s.db.QueryRow(ctx,
		`INSERT INTO users (email, password, tripadvisor_username) VALUES ($1, $2, $3) RETURNING id, created_at`,
		email, user.PasswordHash, req.TripadvisorUsername,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.WithField("user_id", user.ID).Info("User registered")
	return s.issue(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	var user models.User
	err := s.db.QueryRow(ctx,
		`SELECT id, email, password, tripadvisor_username, created_at FROM users WHERE email = $1`,
		normalizeEmail(req.Email),
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.TripadvisorUsername, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	// Crawled accounts have no password and cannot log in.
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, user)
}

func (s *AuthService) issue(ctx context.Context, user models.User) (*models.AuthResponse, error) {
	token, expiresAt, err := s.GenerateToken(ctx, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func (s *AuthService) GenerateToken(ctx context.Context, userID int64, email string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.TokenTTL)
	claims := &models.JWTClaims{
		UserID:   userID,
		Email:    email,
		UserTier: s.tierFor(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Set(ctx, sessionKey(userID), tokenString, s.config.TokenTTL).Err(); err != nil {
			// Don't fail token generation if Redis is down
			s.logger.WithError(err).Warn("Failed to store session in Redis")
		}
	}
	return tokenString, expiresAt, nil
}

func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if s.redisClient != nil {
		stored, err := s.redisClient.Get(ctx, sessionKey(claims.UserID)).Result()
		if err := s.checkSession(stored, err, tokenString); err != nil {
			return nil, err
		}
	}
	return claims, nil
}

// checkSession accepts a token only while it is the one stored for the user's session.
// Lookup failures other than a missing key are logged and let the token through.
func (s *AuthService) checkSession(stored string, lookupErr error, presented string) error {
	switch {
	case errors.Is(lookupErr, redis.Nil):
		return ErrSessionNotFound
	case lookupErr != nil:
		s.logger.WithError(lookupErr).Warn("Failed to check session in Redis")
		return nil
	case subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1:
		return ErrSessionSuperseded
	}
	return nil
}

func (s *AuthService) RevokeToken(ctx context.Context, userID int64) error {
	if s.redisClient == nil {
		return nil
	}
	if err := s.redisClient.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

func (s *AuthService) tierFor(email string) string {
	email = normalizeEmail(email)
	if slices.ContainsFunc(s.config.AdminEmails, func(admin string) bool {
		return normalizeEmail(admin) == email
	}) {
		return TierAdmin
	}
	return TierFree
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("session:%d", userID)
}
