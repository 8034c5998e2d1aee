package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/config"
)

type Database struct {
	PG     *pgxpool.Pool
	Neo4j  neo4j.DriverWithContext // nil when the graph is unreachable at startup
	Redis  *RedisClients
	logger *logrus.Logger
}

type RedisClients struct {
	Hot  *redis.Client
	Warm *redis.Client
	Cold *redis.Client
}

func New(cfg *config.Config, logger *logrus.Logger) (*Database, error) {
	db := &Database{
		logger: logger,
	}

	// Initialize PostgreSQL
	if err := db.initPostgreSQL(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	if cfg.Database.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := Migrate(ctx, db.PG); err != nil {
			db.PG.Close()
			return nil, fmt.Errorf("failed to migrate PostgreSQL schema: %w", err)
		}
		logger.Info("PostgreSQL schema up to date")
	}

	// The rating graph only powers "similar places"; serve without it.
	if err := db.initNeo4j(cfg); err != nil {
		logger.WithError(err).Warn("Neo4j unavailable, similar-place recommendations disabled")
	}

	// Initialize Redis clients
	if err := db.initRedis(cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	return db, nil
}

func (db *Database) initPostgreSQL(cfg *config.Config) error {
	config, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = int32(cfg.Database.MaxConnections)
	config.MaxConnIdleTime = cfg.Database.MaxIdleTime
	config.MaxConnLifetime = cfg.Database.MaxLifetime
	config.ConnConfig.ConnectTimeout = cfg.Database.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.PG = pool
	db.logger.Info("PostgreSQL connection established")
	return nil
}

func (db *Database) initNeo4j(cfg *config.Config) error {
	if cfg.Neo4j.URL == "" {
		return fmt.Errorf("neo4j.url not configured")
	}
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4j.URL,
		neo4j.BasicAuth(cfg.Neo4j.Username, cfg.Neo4j.Password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 10
			config.ConnectionAcquisitionTimeout = 30 * time.Second
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	db.Neo4j = driver
	db.logger.Info("Neo4j connection established")
	return nil
}

func (db *Database) initRedis(cfg *config.Config) error {
	db.Redis = &RedisClients{}

	instances := []struct {
		name   string
		cfg    config.RedisInstanceConfig
		target **redis.Client
	}{
		{"hot", cfg.Redis.Hot, &db.Redis.Hot},    // sessions, rate limiting
		{"warm", cfg.Redis.Warm, &db.Redis.Warm}, // ranking cache, training jobs
		{"cold", cfg.Redis.Cold, &db.Redis.Cold}, // model snapshot
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, inst := range instances {
		client := newRedisClient(inst.cfg)
		*inst.target = client
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping Redis %s: %w", inst.name, err)
		}
	}

	db.logger.Info("Redis connections established")
	return nil
}

// newRedisClient accepts either a redis:// URL or a bare host:port.
func newRedisClient(cfg config.RedisInstanceConfig) *redis.Client {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{Addr: cfg.URL}
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize
	opts.ReadTimeout = cfg.Timeout
	opts.WriteTimeout = cfg.Timeout
	return redis.NewClient(opts)
}

func (db *Database) Close() error {
	var errors []error

	// Close PostgreSQL
	if db.PG != nil {
		db.PG.Close()
		db.logger.Info("PostgreSQL connection closed")
	}

	// Close Neo4j
	if db.Neo4j != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Neo4j.Close(ctx); err != nil {
			errors = append(errors, fmt.Errorf("failed to close Neo4j: %w", err))
		} else {
			db.logger.Info("Neo4j connection closed")
		}
	}

	// Close Redis connections
	if db.Redis != nil {
		for name, client := range map[string]*redis.Client{
			"hot":  db.Redis.Hot,
			"warm": db.Redis.Warm,
			"cold": db.Redis.Cold,
		} {
			if client == nil {
				continue
			}
			if err := client.Close(); err != nil {
				errors = append(errors, fmt.Errorf("failed to close Redis %s: %w", name, err))
			}
		}
		if len(errors) == 0 {
			db.logger.Info("Redis connections closed")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("errors closing database connections: %v", errors)
	}

	return nil
}
