package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultHiddenWidth, cfg.Model.HiddenWidth)
	assert.Equal(t, DefaultEmbeddingWidth, cfg.Model.EmbeddingWidth)
	assert.Equal(t, []int{256, 64}, cfg.Model.FusionWidths)
	assert.Equal(t, DefaultMethylationFeatureCap, cfg.Alignment.MethylationFeatureCap)
	assert.Equal(t, DefaultTopK, cfg.Recommendation.TopK)
	assert.Equal(t, "ge", cfg.Survival.TiePolicy)
	assert.Equal(t, "results.csv", cfg.Outputs.Results)
	assert.Equal(t, "patient_embeddings.csv", cfg.Outputs.Embeddings)
	assert.Equal(t, "recommendations.csv", cfg.Outputs.Recommendations)
	assert.Equal(t, DefaultRedisTTL, cfg.Sinks.Redis.TTL)
	assert.Equal(t, []string{DefaultKafkaBroker}, cfg.Sinks.Kafka.Brokers)
	assert.Equal(t, int64(0), cfg.Model.Seed, "zero seed is left alone")
}

func TestApplyDefaults_PreserveExistingValues(t *testing.T) {
	cfg := &Config{}
	cfg.Model.HiddenWidth = 128
	cfg.Recommendation.TopK = 10
	cfg.Sinks.Postgres.ConnMaxLifetime = time.Minute
	ApplyDefaults(cfg)

	assert.Equal(t, 128, cfg.Model.HiddenWidth)
	assert.Equal(t, 10, cfg.Recommendation.TopK)
	assert.Equal(t, time.Minute, cfg.Sinks.Postgres.ConnMaxLifetime)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}

func TestDefault_SetsSeed(t *testing.T) {
	assert.Equal(t, int64(DefaultSeed), Default().Model.Seed)
}
