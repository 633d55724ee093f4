package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultHiddenWidth           = 512
	DefaultEmbeddingWidth        = 32
	DefaultSeed                  = 42
	DefaultMethylationFeatureCap = 10000
	DefaultTopK                  = 5
	DefaultTiePolicy             = "ge"

	DefaultOutputDir       = "."
	DefaultResultsFile     = "results.csv"
	DefaultEmbeddingsFile  = "patient_embeddings.csv"
	DefaultRecommendations = "recommendations.csv"
	DefaultCoxInputFile    = "cox_input.csv"
	DefaultRiskGroupsFile  = "risk_groups.csv"
	DefaultManifestFile    = "manifest.json"

	DefaultTimeColumn  = "OS_time"
	DefaultEventColumn = "OS_status"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsNamespace = "oncofuse"
	DefaultMetricsJob       = "oncofuse_pipeline"
	DefaultMetricsAddr      = ":9102"

	DefaultMinIOEndpoint    = "localhost:9000"
	DefaultArtifactBucket   = "oncofuse-artifacts"
	DefaultModelBucket      = "oncofuse-models"
	DefaultArtifactPrefix   = "runs"
	DefaultPostgresHost     = "localhost"
	DefaultPostgresPort     = 5432
	DefaultPostgresDB       = "oncofuse"
	DefaultPostgresMaxConns = 10
	DefaultRedisAddr        = "localhost:6379"
	DefaultRedisPrefix      = "oncofuse:"
	DefaultRedisTTL         = 7 * 24 * time.Hour
	DefaultKafkaBroker      = "localhost:9092"
	DefaultCompletedTopic   = "pipeline.run.completed"
	DefaultFailedTopic      = "pipeline.run.failed"
	DefaultRequestTopic     = "pipeline.run.requested"
	DefaultKafkaGroupID     = "oncofuse-worker"
	DefaultMilvusAddr       = "localhost:19530"
	DefaultMilvusCollection = "patient_embeddings"
	DefaultNeo4jURI         = "bolt://localhost:7687"
	DefaultNeo4jDatabase    = "neo4j"
)

// DefaultFusionWidths are the hidden widths of the fusion head.
func DefaultFusionWidths() []int { return []int{256, 64} }

// Default returns a Config with every default applied. Seed is set here
// rather than in ApplyDefaults because zero is a legitimate seed.
func Default() *Config {
	cfg := &Config{}
	cfg.Model.Seed = DefaultSeed
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-value fields in cfg whose zero value is never
// meaningful. Explicit configuration always wins.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Model ─────────────────────────────────────────────────────────────────
	if cfg.Model.HiddenWidth == 0 {
		cfg.Model.HiddenWidth = DefaultHiddenWidth
	}
	if cfg.Model.EmbeddingWidth == 0 {
		cfg.Model.EmbeddingWidth = DefaultEmbeddingWidth
	}
	if len(cfg.Model.FusionWidths) == 0 {
		cfg.Model.FusionWidths = DefaultFusionWidths()
	}

	// ── Alignment / recommendation / survival ─────────────────────────────────
	if cfg.Alignment.MethylationFeatureCap == 0 {
		cfg.Alignment.MethylationFeatureCap = DefaultMethylationFeatureCap
	}
	if cfg.Recommendation.TopK == 0 {
		cfg.Recommendation.TopK = DefaultTopK
	}
	if cfg.Survival.TiePolicy == "" {
		cfg.Survival.TiePolicy = DefaultTiePolicy
	}
	if cfg.Survival.TimeColumn == "" {
		cfg.Survival.TimeColumn = DefaultTimeColumn
	}
	if cfg.Survival.EventColumn == "" {
		cfg.Survival.EventColumn = DefaultEventColumn
	}

	// ── Outputs ───────────────────────────────────────────────────────────────
	if cfg.Outputs.Dir == "" {
		cfg.Outputs.Dir = DefaultOutputDir
	}
	if cfg.Outputs.Results == "" {
		cfg.Outputs.Results = DefaultResultsFile
	}
	if cfg.Outputs.Embeddings == "" {
		cfg.Outputs.Embeddings = DefaultEmbeddingsFile
	}
	if cfg.Outputs.Recommendations == "" {
		cfg.Outputs.Recommendations = DefaultRecommendations
	}
	if cfg.Outputs.CoxInput == "" {
		cfg.Outputs.CoxInput = DefaultCoxInputFile
	}
	if cfg.Outputs.RiskGroups == "" {
		cfg.Outputs.RiskGroups = DefaultRiskGroupsFile
	}
	if cfg.Outputs.Manifest == "" {
		cfg.Outputs.Manifest = DefaultManifestFile
	}

	// ── Log / metrics ─────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = DefaultMetricsJob
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = DefaultMetricsAddr
	}

	applySinkDefaults(&cfg.Sinks)
}

func applySinkDefaults(s *SinksConfig) {
	// ── MinIO ─────────────────────────────────────────────────────────────────
	if s.MinIO.Endpoint == "" {
		s.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if s.MinIO.ArtifactBucket == "" {
		s.MinIO.ArtifactBucket = DefaultArtifactBucket
	}
	if s.MinIO.ModelBucket == "" {
		s.MinIO.ModelBucket = DefaultModelBucket
	}
	if s.MinIO.Prefix == "" {
		s.MinIO.Prefix = DefaultArtifactPrefix
	}

	// ── Postgres ──────────────────────────────────────────────────────────────
	if s.Postgres.Host == "" {
		s.Postgres.Host = DefaultPostgresHost
	}
	if s.Postgres.Port == 0 {
		s.Postgres.Port = DefaultPostgresPort
	}
	if s.Postgres.DBName == "" {
		s.Postgres.DBName = DefaultPostgresDB
	}
	if s.Postgres.SSLMode == "" {
		s.Postgres.SSLMode = "disable"
	}
	if s.Postgres.MaxConns == 0 {
		s.Postgres.MaxConns = DefaultPostgresMaxConns
	}
	if s.Postgres.ConnMaxLifetime == 0 {
		s.Postgres.ConnMaxLifetime = time.Hour
	}
	if s.Postgres.ConnMaxIdleTime == 0 {
		s.Postgres.ConnMaxIdleTime = 30 * time.Minute
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if s.Redis.Addr == "" {
		s.Redis.Addr = DefaultRedisAddr
	}
	if s.Redis.KeyPrefix == "" {
		s.Redis.KeyPrefix = DefaultRedisPrefix
	}
	if s.Redis.TTL == 0 {
		s.Redis.TTL = DefaultRedisTTL
	}
	if s.Redis.PoolSize == 0 {
		s.Redis.PoolSize = 10
	}
	if s.Redis.DialTimeout == 0 {
		s.Redis.DialTimeout = 5 * time.Second
	}
	if s.Redis.ReadTimeout == 0 {
		s.Redis.ReadTimeout = 3 * time.Second
	}
	if s.Redis.WriteTimeout == 0 {
		s.Redis.WriteTimeout = 3 * time.Second
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(s.Kafka.Brokers) == 0 {
		s.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if s.Kafka.CompletedTopic == "" {
		s.Kafka.CompletedTopic = DefaultCompletedTopic
	}
	if s.Kafka.FailedTopic == "" {
		s.Kafka.FailedTopic = DefaultFailedTopic
	}
	if s.Kafka.RequestTopic == "" {
		s.Kafka.RequestTopic = DefaultRequestTopic
	}
	if s.Kafka.GroupID == "" {
		s.Kafka.GroupID = DefaultKafkaGroupID
	}
	if s.Kafka.WriteTimeout == 0 {
		s.Kafka.WriteTimeout = 10 * time.Second
	}

	// ── Milvus / Neo4j ────────────────────────────────────────────────────────
	if s.Milvus.Addr == "" {
		s.Milvus.Addr = DefaultMilvusAddr
	}
	if s.Milvus.Collection == "" {
		s.Milvus.Collection = DefaultMilvusCollection
	}
	if s.Neo4j.URI == "" {
		s.Neo4j.URI = DefaultNeo4jURI
	}
	if s.Neo4j.Database == "" {
		s.Neo4j.Database = DefaultNeo4jDatabase
	}
}
