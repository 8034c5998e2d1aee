package models

import (
	"time"

	"github.com/google/uuid"
)

type Recommendation struct {
	PlaceID  int64    `json:"place_id"`
	Score    *float64 `json:"score,omitempty"`
	Position int      `json:"position"`
	Place    *Place   `json:"place,omitempty"`
}

// RecommendationRequest narrows the candidate set either by explicit ids or by a type and
// bounding-box filter. With neither, every known place is ranked.
type RecommendationRequest struct {
	UserID     int64        `json:"user_id" validate:"required,gt=0"`
	Count      int          `json:"count" validate:"min=1,max=100"`
	Candidates []int64      `json:"candidates,omitempty" validate:"omitempty,max=1000,dive,gt=0"`
	Type       *PlaceType   `json:"type,omitempty"`
	BBox       *BoundingBox `json:"bbox,omitempty"`
	Expand     bool         `json:"expand"`
}

type RecommendationResponse struct {
	UserID          int64            `json:"user_id"`
	Recommendations []Recommendation `json:"recommendations"`
	Degraded        bool             `json:"degraded"`
	ModelVersion    uint64           `json:"model_version"`
	GeneratedAt     time.Time        `json:"generated_at"`
	CacheHit        bool             `json:"cache_hit"`
}

type SimilarPlacesResponse struct {
	UserID          int64            `json:"user_id"`
	SeedPlaceID     int64            `json:"seed_place_id"`
	Recommendations []Recommendation `json:"recommendations"`
	Degraded        bool             `json:"degraded"`
	ModelVersion    uint64           `json:"model_version"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

type TrainingJob struct {
	JobID        uuid.UUID  `json:"job_id"`
	Status       JobStatus  `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	ModelVersion uint64     `json:"model_version,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type RetrainRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=200"`
}
