package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 32, cfg.Recommender.Components)
	assert.Equal(t, "warp", cfg.Recommender.Loss)
	assert.Equal(t, 8, cfg.Recommender.PositiveEpochs)
	assert.Equal(t, 8, cfg.Recommender.NegativeEpochs)
	assert.Equal(t, "ratio", cfg.Recommender.Combiner)
	assert.Equal(t, "file", cfg.Recommender.Snapshot.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Recommender.Training.Timeout)
	assert.Equal(t, "review-ingestion", cfg.Kafka.Topics.ReviewIngestion)
	assert.Equal(t, "venuerec-ingestion", cfg.Kafka.GroupID)
	assert.Equal(t, 15*time.Minute, cfg.Cache.RecommendationsTTL)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RECOMMENDER_LOSS", "bpr")
	t.Setenv("RECOMMENDER_COMPONENTS", "16")
	t.Setenv("RECOMMENDER_SNAPSHOT_BACKEND", "redis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "bpr", cfg.Recommender.Loss)
	assert.Equal(t, 16, cfg.Recommender.Components)
	assert.Equal(t, "redis", cfg.Recommender.Snapshot.Backend)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.Recommender.Loss = "warp"
		c.Recommender.Combiner = "ratio"
		c.Recommender.Components = 32
		c.Recommender.Snapshot.Backend = "file"
		c.Recommender.Snapshot.Path = "model.snap"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown loss", mutate: func(c *Config) { c.Recommender.Loss = "logistic" }, wantErr: true},
		{name: "unknown combiner", mutate: func(c *Config) { c.Recommender.Combiner = "max" }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Recommender.Snapshot.Backend = "s3" }, wantErr: true},
		{name: "missing path", mutate: func(c *Config) { c.Recommender.Snapshot.Path = "" }, wantErr: true},
		{name: "redis without key", mutate: func(c *Config) { c.Recommender.Snapshot.Backend = "redis" }, wantErr: true},
		{name: "zero components", mutate: func(c *Config) { c.Recommender.Components = 0 }, wantErr: true},
		{name: "production without secret", mutate: func(c *Config) { c.Server.Mode = "production" }, wantErr: true},
		{name: "production with secret", mutate: func(c *Config) {
			c.Server.Mode = "production"
			c.Auth.JWTSecret = "s3cret"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
