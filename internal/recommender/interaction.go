package recommender

import "fmt"

const (
	MinRating = 1
	MaxRating = 5

	// positiveThreshold: ratings strictly above it are "liked".
	positiveThreshold = 4
)

// Rating is an explicit 1-5 rating keyed by external ids.
type Rating struct {
	UserID  int64 `json:"user_id"`
	PlaceID int64 `json:"place_id"`
	Value   int   `json:"rating"`
}

// Validate checks the rating value range.
func (r Rating) Validate() error {
	if r.Value < MinRating || r.Value > MaxRating {
		return fmt.Errorf("rating %d for user %d place %d: %w", r.Value, r.UserID, r.PlaceID, ErrInvalidRating)
	}
	return nil
}

// Interaction is a rating expressed in dense model indices with its training weight.
type Interaction struct {
	User   int
	Place  int
	Weight float64
}

// Side names the model a rating trains.
type Side int

const (
	Positive Side = iota
	Negative
)

func (s Side) String() string {
	if s == Positive {
		return "positive"
	}
	return "negative"
}

// Route decides which model a rating feeds and with what weight: ratings above 4 are
// unweighted positives, the rest are negatives weighted by 5-rating.
func Route(value int) (Side, float64) {
	if value > positiveThreshold {
		return Positive, 1.0
	}
	return Negative, float64(MaxRating - value)
}

// Universe is the set of users and places known when a full fit begins.
type Universe struct {
	UserIDs  []int64
	PlaceIDs []int64
}

// partition resolves ratings against m and splits them by side. Unknown ids are reported as
// an *UnknownIdentifierError.
func partition(m *IdentifierMapper, ratings []Rating) (pos, neg []Interaction, err error) {
	for _, r := range ratings {
		u, err := m.ToInternalUser(r.UserID)
		if err != nil {
			return nil, nil, err
		}
		p, err := m.ToInternalPlace(r.PlaceID)
		if err != nil {
			return nil, nil, err
		}
		side, w := Route(r.Value)
		in := Interaction{User: u, Place: p, Weight: w}
		if side == Positive {
			pos = append(pos, in)
		} else {
			neg = append(neg, in)
		}
	}
	return pos, neg, nil
}
