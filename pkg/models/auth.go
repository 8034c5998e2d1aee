package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type JWTClaims struct {
	UserID   int64  `json:"user_id"`
	Email    string `json:"email"`
	UserTier string `json:"user_tier"` // free, premium, admin
	jwt.RegisteredClaims
}

type RegisterRequest struct {
	Email               string  `json:"email" validate:"required,email,max=254"`
	Password            string  `json:"password" validate:"required,min=8,max=72"`
	TripadvisorUsername *string `json:"tripadvisor_username,omitempty" validate:"omitempty,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"`
}
