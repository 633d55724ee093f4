package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuoyuGao1/cancer-system/internal/config"
)

func TestConfig_Validate_Default(t *testing.T) {
	t.Parallel()
	assert.NoError(t, config.Default().Validate())
}

func TestConfig_Validate_Failures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantKey string
	}{
		{"hidden width", func(c *config.Config) { c.Model.HiddenWidth = 0 }, "model.hidden_width"},
		{"embedding width", func(c *config.Config) { c.Model.EmbeddingWidth = -1 }, "model.embedding_width"},
		{"fusion widths empty", func(c *config.Config) { c.Model.FusionWidths = nil }, "model.fusion_widths"},
		{"fusion width zero", func(c *config.Config) { c.Model.FusionWidths = []int{256, 0} }, "model.fusion_widths[1]"},
		{"methylation cap", func(c *config.Config) { c.Alignment.MethylationFeatureCap = 0 }, "alignment.methylation_feature_cap"},
		{"top k", func(c *config.Config) { c.Recommendation.TopK = 0 }, "recommendation.top_k"},
		{"tie policy", func(c *config.Config) { c.Survival.TiePolicy = "eq" }, "survival.tie_policy"},
		{"output dir", func(c *config.Config) { c.Outputs.Dir = "" }, "outputs.dir"},
		{"log level", func(c *config.Config) { c.Log.Level = "trace" }, "log.level"},
		{"log format", func(c *config.Config) { c.Log.Format = "text" }, "log.format"},
		{"metrics namespace", func(c *config.Config) { c.Metrics.Enabled = true; c.Metrics.Namespace = "" }, "metrics.namespace"},
		{"postgres user", func(c *config.Config) { c.Sinks.Postgres.Enabled = true }, "sinks.postgres.user"},
		{"postgres port", func(c *config.Config) {
			c.Sinks.Postgres.Enabled = true
			c.Sinks.Postgres.User = "onco"
			c.Sinks.Postgres.Port = 70000
		}, "sinks.postgres.port"},
		{"kafka brokers", func(c *config.Config) { c.Sinks.Kafka.Enabled = true; c.Sinks.Kafka.Brokers = nil }, "sinks.kafka.brokers"},
		{"redis db", func(c *config.Config) { c.Sinks.Redis.Enabled = true; c.Sinks.Redis.DB = -1 }, "sinks.redis.db"},
		{"milvus addr", func(c *config.Config) { c.Sinks.Milvus.Enabled = true; c.Sinks.Milvus.Addr = "" }, "sinks.milvus.addr"},
		{"neo4j uri", func(c *config.Config) { c.Sinks.Neo4j.Enabled = true; c.Sinks.Neo4j.URI = "" }, "sinks.neo4j.uri"},
		{"minio bucket", func(c *config.Config) { c.Sinks.MinIO.Enabled = true; c.Sinks.MinIO.ArtifactBucket = "" }, "sinks.minio.artifact_bucket"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantKey)
		})
	}
}

func TestConfig_Validate_DisabledSinksAreNotChecked(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Sinks.Postgres.User = ""
	cfg.Sinks.Kafka.Brokers = nil
	assert.NoError(t, cfg.Validate())
}
