package models

import (
	"time"

	"github.com/google/uuid"
)

type Review struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	PlaceID   int64     `json:"place_id" db:"place_id"`
	Rating    int       `json:"rating" db:"rating"`
	Content   *string   `json:"content,omitempty" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type RatingRequest struct {
	UserID  int64   `json:"user_id" validate:"required,gt=0"`
	PlaceID int64   `json:"place_id" validate:"required,gt=0"`
	Rating  int     `json:"rating" validate:"required,min=1,max=5"`
	Content *string `json:"content,omitempty" validate:"omitempty,max=5000"`
}

type RatingResponse struct {
	Review       Review `json:"review"`
	UpdateMode   string `json:"update_mode"`
	ModelVersion uint64 `json:"model_version"`
}

// IngestedReview is one crawler-produced review. Users and places are identified by their
// tripadvisor handles and created on first sight.
type IngestedReview struct {
	TripadvisorUsername string        `json:"tripadvisor_username"`
	Place               IngestedPlace `json:"place"`
	Rating              int           `json:"rating"`
	Content             *string       `json:"content,omitempty"`
	CrawledAt           *time.Time    `json:"crawled_at,omitempty"`
}

type IngestedPlace struct {
	TripadvisorID string    `json:"tripadvisor_id"`
	Name          string    `json:"name"`
	PlaceType     PlaceType `json:"place_type"`
	Rating        *float64  `json:"rating,omitempty"`
	Latitude      *float64  `json:"latitude,omitempty"`
	Longitude     *float64  `json:"longitude,omitempty"`
}

// RatingEvent is published after a rating has been stored and absorbed by the engine.
type RatingEvent struct {
	EventID      uuid.UUID `json:"event_id"`
	Type         string    `json:"type"`
	ReviewID     int64     `json:"review_id"`
	UserID       int64     `json:"user_id"`
	PlaceID      int64     `json:"place_id"`
	Rating       int       `json:"rating"`
	UpdateMode   string    `json:"update_mode"`
	ModelVersion uint64    `json:"model_version"`
	OccurredAt   time.Time `json:"occurred_at"`
}

const RatingRecordedEvent = "rating.recorded"
