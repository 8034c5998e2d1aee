package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/temcen/venuerec/pkg/models"
)

var bboxParams = [4]string{"min_lat", "min_lon", "max_lat", "max_lon"}

// queryBBox reads min_lat, min_lon, max_lat and max_lon; either all four or none must be set.
func queryBBox(c *gin.Context) (*models.BoundingBox, error) {
	var (
		values [4]float64
		set    int
	)
	for i, name := range bboxParams {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s must be a number", name)
		}
		values[i] = v
		set++
	}
	switch set {
	case 0:
		return nil, nil
	case len(bboxParams):
		return &models.BoundingBox{MinLat: values[0], MinLon: values[1], MaxLat: values[2], MaxLon: values[3]}, nil
	default:
		return nil, fmt.Errorf("bounding box needs all of %s", strings.Join(bboxParams[:], ", "))
	}
}

func queryPlaceType(c *gin.Context) (*models.PlaceType, error) {
	raw := c.Query("type")
	if raw == "" {
		return nil, nil
	}
	t, err := models.ParsePlaceType(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

// queryIDs parses a comma-separated id list such as "1,2,3".
func queryIDs(c *gin.Context, name string) ([]int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s must be a comma-separated list of ids", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
