package services

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/temcen/venuerec/pkg/models"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrPlaceNotFound      = errors.New("place not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrGraphUnavailable   = errors.New("rating graph unavailable")
	ErrSessionNotFound    = errors.New("session not found or expired")
	ErrSessionSuperseded  = errors.New("session token superseded")
)

// DatabaseQuerier is the pgx surface the services use; *pgxpool.Pool and pgxmock both satisfy it.
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RatingGraph mirrors ratings as (:User)-[:RATED]->(:Place) edges.
type RatingGraph interface {
	RecordRating(ctx context.Context, userID, placeID int64, rating int) error
	// CoRatedPlaces returns places rated by users who also rated placeID, most shared raters first.
	CoRatedPlaces(ctx context.Context, placeID int64, limit int) ([]int64, error)
}

// EventPublisher sends rating events downstream.
type EventPublisher interface {
	PublishRatingEvent(ctx context.Context, event models.RatingEvent) error
}
