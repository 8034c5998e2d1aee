package services

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"
)

// Neo4jGraph keeps the rating graph used for "similar places" candidate generation.
type Neo4jGraph struct {
	driver neo4j.DriverWithContext
	logger *logrus.Logger
}

// NewNeo4jGraph accepts a nil driver; every call then fails with ErrGraphUnavailable.
func NewNeo4jGraph(driver neo4j.DriverWithContext, logger *logrus.Logger) *Neo4jGraph {
	return &Neo4jGraph{driver: driver, logger: logger}
}

func (g *Neo4jGraph) Available() bool { return g.driver != nil }

func (g *Neo4jGraph) RecordRating(ctx context.Context, userID, placeID int64, rating int) error {
	if g.driver == nil {
		return ErrGraphUnavailable
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (u:User {user_id: $userId})
		MERGE (p:Place {place_id: $placeId})
		MERGE (u)-[r:RATED]->(p)
		SET r.rating = $rating, r.updated_at = datetime()`

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]interface{}{
			"userId":  userID,
			"placeId": placeID,
			"rating":  rating,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to record rating edge: %w", err)
	}
	return nil
}

func (g *Neo4jGraph) CoRatedPlaces(ctx context.Context, placeID int64, limit int) ([]int64, error) {
	if g.driver == nil {
		return nil, ErrGraphUnavailable
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (seed:Place {place_id: $placeId})<-[:RATED]-(u:User)-[:RATED]->(other:Place)
		WHERE other <> seed
		WITH other, count(DISTINCT u) AS shared
		RETURN other.place_id AS place_id
		ORDER BY shared DESC, place_id
		LIMIT $limit`

	ids, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]interface{}{
			"placeId": placeID,
			"limit":   limit,
		})
		if err != nil {
			return nil, err
		}
		ids := []int64{}
		for result.Next(ctx) {
			if id, ok := result.Record().Values[0].(int64); ok {
				ids = append(ids, id)
			}
		}
		return ids, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query co-rated places: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"place_id":   placeID,
		"candidates": len(ids.([]int64)),
	}).Debug("Co-rated places loaded")
	return ids.([]int64), nil
}
