package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type PlaceType int

const (
	PlaceTypeDefault PlaceType = iota
	PlaceTypeRestaurant
	PlaceTypeCafe
	PlaceTypeBar
)

var placeTypeNames = map[PlaceType]string{
	PlaceTypeDefault:    "default",
	PlaceTypeRestaurant: "restaurant",
	PlaceTypeCafe:       "cafe",
	PlaceTypeBar:        "bar",
}

func (t PlaceType) String() string {
	if name, ok := placeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PlaceType(%d)", int(t))
}

func (t PlaceType) Valid() bool {
	_, ok := placeTypeNames[t]
	return ok
}

// ParsePlaceType accepts either the numeric code or the name ("restaurant", "cafe", "bar").
func ParsePlaceType(s string) (PlaceType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if t := PlaceType(n); t.Valid() {
			return t, nil
		}
		return 0, fmt.Errorf("unknown place type %q", s)
	}
	for t, name := range placeTypeNames {
		if name == s {
			return t, nil
		}
	}
	if s == "café" {
		return PlaceTypeCafe, nil
	}
	return 0, fmt.Errorf("unknown place type %q", s)
}

type Place struct {
	ID            int64     `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	PlaceType     PlaceType `json:"place_type" db:"place_type"`
	TripadvisorID *string   `json:"tripadvisor_id,omitempty" db:"tripadvisor_id"`
	Navicontainer *string   `json:"navicontainer,omitempty" db:"navicontainer"`
	Naviaddress   *string   `json:"naviaddress,omitempty" db:"naviaddress"`
	Rating        *float64  `json:"rating,omitempty" db:"rating"`
	Latitude      *float64  `json:"latitude,omitempty" db:"latitude"`
	Longitude     *float64  `json:"longitude,omitempty" db:"longitude"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// BoundingBox is a latitude/longitude rectangle; containment is inclusive on every edge.
type BoundingBox struct {
	MinLat float64 `json:"min_lat" validate:"min=-90,max=90"`
	MinLon float64 `json:"min_lon" validate:"min=-180,max=180"`
	MaxLat float64 `json:"max_lat" validate:"min=-90,max=90,gtefield=MinLat"`
	MaxLon float64 `json:"max_lon" validate:"min=-180,max=180,gtefield=MinLon"`
}

type PlaceSearchRequest struct {
	Query string       `json:"q,omitempty" validate:"max=200"`
	Type  *PlaceType   `json:"type,omitempty"`
	BBox  *BoundingBox `json:"bbox,omitempty"`
	Limit int          `json:"limit" validate:"min=1,max=200"`
}

type PlaceSearchResponse struct {
	Places []Place `json:"places"`
	Total  int     `json:"total"`
}
