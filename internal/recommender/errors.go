package recommender

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownIdentifier is matched by every failed mapper lookup.
	ErrUnknownIdentifier = errors.New("unknown identifier")
	// ErrUnknownUser reports a user absent from the mapper or outside a model's bounds.
	ErrUnknownUser = errors.New("unknown user")
	// ErrUnknownPlace reports a place absent from the mapper.
	ErrUnknownPlace = errors.New("unknown place")
	// ErrMapperStale is returned by FitPartial when a rating references an id the current
	// mapper has no slot for; only a full Fit can absorb it.
	ErrMapperStale = errors.New("identifier mapper is stale")
	// ErrNotReady is returned while the engine has never been trained or loaded.
	ErrNotReady = errors.New("recommender not trained")
	// ErrSnapshotNotFound is returned by Load when the store holds no snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrSnapshotCorrupt is returned by Load when the stored blob cannot be decoded.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")
	// ErrInvalidRating is returned for ratings outside [MinRating, MaxRating].
	ErrInvalidRating = errors.New("invalid rating")
	// ErrIndexOutOfRange is returned by AffinityModel for indices beyond its embedding tables.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// UnknownIdentifierError carries the id that failed to resolve.
type UnknownIdentifierError struct {
	Kind string // "user" or "place"
	ID   int64
}

func (e *UnknownIdentifierError) Error() string {
	return fmt.Sprintf("unknown %s id %d", e.Kind, e.ID)
}

func (e *UnknownIdentifierError) Is(target error) bool {
	switch target {
	case ErrUnknownIdentifier:
		return true
	case ErrUnknownUser:
		return e.Kind == kindUser
	case ErrUnknownPlace:
		return e.Kind == kindPlace
	}
	return false
}

const (
	kindUser  = "user"
	kindPlace = "place"
)
