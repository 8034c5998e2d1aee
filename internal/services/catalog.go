package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/temcen/venuerec/internal/recommender"
	"github.com/temcen/venuerec/pkg/models"
)

const placeColumns = `id, name, place_type, tripadvisor_id, navicontainer, naviaddress, rating, latitude, longitude, created_at`

// CatalogService reads users, places and reviews, and feeds full fits of the engine.
type CatalogService struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewCatalogService(db DatabaseQuerier, logger *logrus.Logger) *CatalogService {
	return &CatalogService{db: db, logger: logger}
}

// NormalizeName folds case and strips diacritics so "Café" matches "cafe".
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}

func (s *CatalogService) GetPlace(ctx context.Context, id int64) (*models.Place, error) {
	row := s.db.QueryRow(ctx, `SELECT `+placeColumns+` FROM places WHERE id = $1`, id)
	place, err := scanPlace(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("place %d: %w", id, ErrPlaceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get place: %w", err)
	}
	return place, nil
}

// GetPlaces returns the places that exist among ids, keyed by id.
func (s *CatalogService) GetPlaces(ctx context.Context, ids []int64) (map[int64]*models.Place, error) {
	out := make(map[int64]*models.Place, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+placeColumns+` FROM places WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query places: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		place, err := scanPlace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		out[place.ID] = place
	}
	return out, rows.Err()
}

func (s *CatalogService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx,
		`SELECT id, email, password, tripadvisor_username, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.TripadvisorUsername, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *CatalogService) GetReview(ctx context.Context, id int64) (*models.Review, error) {
	var r models.Review
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, place_id, rating, content, created_at FROM reviews WHERE id = $1`, id,
	).Scan(&r.ID, &r.UserID, &r.PlaceID, &r.Rating, &r.Content, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("review %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return &r, nil
}

// SearchPlaces combines a fuzzy name match, a type filter and bounding-box containment; any
// of them may be absent. Results are ordered by static rating, best first.
func (s *CatalogService) SearchPlaces(ctx context.Context, req models.PlaceSearchRequest) ([]models.Place, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q := NormalizeName(req.Query); q != "" {
		where = append(where, "name_normalized ILIKE "+arg("%"+escapeLike(q)+"%"))
	}
	if req.Type != nil {
		where = append(where, "place_type = "+arg(int(*req.Type)))
	}
	if b := req.BBox; b != nil {
		where = append(where,
			"latitude BETWEEN "+arg(b.MinLat)+" AND "+arg(b.MaxLat),
			"longitude BETWEEN "+arg(b.MinLon)+" AND "+arg(b.MaxLon),
		)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + placeColumns + ` FROM places`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rating DESC NULLS LAST, id LIMIT " + arg(limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search places: %w", err)
	}
	defer rows.Close()

	places := []models.Place{}
	for rows.Next() {
		place, err := scanPlace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		places = append(places, *place)
	}
	return places, rows.Err()
}

// FilterPlaceIDs is SearchPlaces without a limit, returning ids only.
func (s *CatalogService) FilterPlaceIDs(ctx context.Context, placeType *models.PlaceType, bbox *models.BoundingBox) ([]int64, error) {
	var (
		where []string
		args  []interface{}
	)
	if placeType != nil {
		args = append(args, int(*placeType))
		where = append(where, fmt.Sprintf("place_type = $%d", len(args)))
	}
	if bbox != nil {
		args = append(args, bbox.MinLat, bbox.MaxLat, bbox.MinLon, bbox.MaxLon)
		n := len(args)
		where = append(where,
			fmt.Sprintf("latitude BETWEEN $%d AND $%d", n-3, n-2),
			fmt.Sprintf("longitude BETWEEN $%d AND $%d", n-1, n),
		)
	}
	query := `SELECT id FROM places`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	return s.queryIDs(ctx, query, args...)
}

// PopularPlaceIDs is the cold-start ordering: static rating descending, then id. A non-nil
// candidates slice restricts the result to those ids.
func (s *CatalogService) PopularPlaceIDs(ctx context.Context, candidates []int64) ([]int64, error) {
	if candidates == nil {
		return s.queryIDs(ctx, `SELECT id FROM places ORDER BY rating DESC NULLS LAST, id`)
	}
	if len(candidates) == 0 {
		return []int64{}, nil
	}
	return s.queryIDs(ctx,
		`SELECT id FROM places WHERE id = ANY($1) ORDER BY rating DESC NULLS LAST, id`, candidates)
}

// CountUserReviews is used to detect a user's first rating.
func (s *CatalogService) CountUserReviews(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM reviews WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count reviews: %w", err)
	}
	return n, nil
}

// TrainingData implements recommender.TrainingSource over the whole catalog.
func (s *CatalogService) TrainingData(ctx context.Context) (recommender.Universe, []recommender.Rating, error) {
	users, err := s.queryIDs(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return recommender.Universe{}, nil, err
	}
	places, err := s.queryIDs(ctx, `SELECT id FROM places ORDER BY id`)
	if err != nil {
		return recommender.Universe{}, nil, err
	}

	rows, err := s.db.Query(ctx, `SELECT user_id, place_id, rating FROM reviews ORDER BY id`)
	if err != nil {
		return recommender.Universe{}, nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var ratings []recommender.Rating
	for rows.Next() {
		var r recommender.Rating
		if err := rows.Scan(&r.UserID, &r.PlaceID, &r.Value); err != nil {
			return recommender.Universe{}, nil, fmt.Errorf("failed to scan review: %w", err)
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return recommender.Universe{}, nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"users":   len(users),
		"places":  len(places),
		"reviews": len(ratings),
	}).Debug("Loaded training data")
	return recommender.Universe{UserIDs: users, PlaceIDs: places}, ratings, nil
}

// EnsureUser returns the id of the user with the given tripadvisor handle, creating a
// password-less account on first sight.
func (s *CatalogService) EnsureUser(ctx context.Context, tripadvisorUsername string) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (email, tripadvisor_username)
		VALUES ($1, $2)
		ON CONFLICT (tripadvisor_username) DO UPDATE SET tripadvisor_username = EXCLUDED.tripadvisor_username
		RETURNING id`,
		tripadvisorUsername+"@tripadvisor.invalid", tripadvisorUsername,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert user: %w", err)
	}
	return id, nil
}

// EnsurePlace upserts a crawled place by tripadvisor id and returns its id.
func (s *CatalogService) EnsurePlace(ctx context.Context, p models.IngestedPlace) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO places (name, name_normalized, place_type, tripadvisor_id, rating, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tripadvisor_id) DO UPDATE SET
			name = EXCLUDED.name,
			name_normalized = EXCLUDED.name_normalized,
			place_type = EXCLUDED.place_type,
			rating = COALESCE(EXCLUDED.rating, places.rating),
			latitude = COALESCE(EXCLUDED.latitude, places.latitude),
			longitude = COALESCE(EXCLUDED.longitude, places.longitude)
		RETURNING id`,
		p.Name, NormalizeName(p.Name), int(p.PlaceType), p.TripadvisorID, p.Rating, p.Latitude, p.Longitude,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert place: %w", err)
	}
	return id, nil
}

func (s *CatalogService) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanPlace(row pgx.Row) (*models.Place, error) {
	var (
		p         models.Place
		placeType int16
	)
	err := row.Scan(&p.ID, &p.Name, &placeType, &p.TripadvisorID, &p.Navicontainer, &p.Naviaddress,
		&p.Rating, &p.Latitude, &p.Longitude, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.PlaceType = models.PlaceType(placeType)
	return &p, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
