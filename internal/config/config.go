// Package config defines the configuration structures for the oncofuse
// pipeline. No I/O or parsing logic lives here, only plain data types and
// validation.
package config

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Pipeline sections
// ─────────────────────────────────────────────────────────────────────────────

// InputsConfig locates the source tables of a run.
type InputsConfig struct {
	Expression  string `mapstructure:"expression"`
	Mutation    string `mapstructure:"mutation"`
	Methylation string `mapstructure:"methylation"`
	Drugs       string `mapstructure:"drugs"`
	Clinical    string `mapstructure:"clinical"`

	// SampleIDColumn names the identifier column of the omics tables.
	// Empty means the first column.
	SampleIDColumn string `mapstructure:"sample_id_column"`

	// DrugIDColumn names the compound column of the drug table.
	// Empty means the first column.
	DrugIDColumn string `mapstructure:"drug_id_column"`
}

// OutputsConfig names the flat files written by a run.
type OutputsConfig struct {
	Dir             string `mapstructure:"dir"`
	Results         string `mapstructure:"results"`
	Embeddings      string `mapstructure:"embeddings"`
	Recommendations string `mapstructure:"recommendations"`
	CoxInput        string `mapstructure:"cox_input"`
	RiskGroups      string `mapstructure:"risk_groups"`
	Manifest        string `mapstructure:"manifest"`
}

// ModelConfig holds the fusion model dimensions and weight source.
type ModelConfig struct {
	HiddenWidth    int   `mapstructure:"hidden_width"`
	EmbeddingWidth int   `mapstructure:"embedding_width"`
	FusionWidths   []int `mapstructure:"fusion_widths"`
	Seed           int64 `mapstructure:"seed"`

	// WeightsPath is a local weights document. Takes precedence over
	// WeightsObject.
	WeightsPath string `mapstructure:"weights_path"`

	// WeightsObject is an object key in the MinIO model bucket.
	WeightsObject string `mapstructure:"weights_object"`
}

// AlignmentConfig holds sample alignment settings.
type AlignmentConfig struct {
	MethylationFeatureCap int `mapstructure:"methylation_feature_cap"`
}

// RecommendationConfig holds recommender settings.
type RecommendationConfig struct {
	TopK int `mapstructure:"top_k"`
}

// SurvivalConfig holds Cox-input export and stratification settings.
type SurvivalConfig struct {
	TimeColumn  string `mapstructure:"time_column"`
	EventColumn string `mapstructure:"event_column"`
	// TiePolicy is "ge" (risk >= median is High) or "gt" (risk > median).
	TiePolicy string `mapstructure:"tie_policy"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `mapstructure:"format"` // "json" | "console"
	Output string `mapstructure:"output"`
	Caller bool   `mapstructure:"caller"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Namespace      string `mapstructure:"namespace"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
	ListenAddr     string `mapstructure:"listen_addr"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Sink sections
// ─────────────────────────────────────────────────────────────────────────────

// MinIOConfig holds object-storage parameters for run artifacts and weights.
type MinIOConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	UseSSL         bool   `mapstructure:"use_ssl"`
	Region         string `mapstructure:"region"`
	ArtifactBucket string `mapstructure:"artifact_bucket"`
	ModelBucket    string `mapstructure:"model_bucket"`
	Prefix         string `mapstructure:"prefix"`
}

// PostgresConfig holds run repository connection parameters.
type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds result-cache connection parameters.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	TTL          time.Duration `mapstructure:"ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds run-event and run-request topic parameters.
type KafkaConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Brokers        []string      `mapstructure:"brokers"`
	CompletedTopic string        `mapstructure:"completed_topic"`
	FailedTopic    string        `mapstructure:"failed_topic"`
	RequestTopic   string        `mapstructure:"request_topic"`
	GroupID        string        `mapstructure:"group_id"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// MilvusConfig holds patient-embedding index parameters.
type MilvusConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	DBName     string `mapstructure:"db_name"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Collection string `mapstructure:"collection"`
}

// Neo4jConfig holds recommendation-graph parameters.
type Neo4jConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// SinksConfig groups the optional result sinks. All are disabled by default.
type SinksConfig struct {
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Milvus   MilvusConfig   `mapstructure:"milvus"`
	Neo4j    Neo4jConfig    `mapstructure:"neo4j"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Inputs         InputsConfig         `mapstructure:"inputs"`
	Outputs        OutputsConfig        `mapstructure:"outputs"`
	Model          ModelConfig          `mapstructure:"model"`
	Alignment      AlignmentConfig      `mapstructure:"alignment"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Survival       SurvivalConfig       `mapstructure:"survival"`
	Log            LogConfig            `mapstructure:"log"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Sinks          SinksConfig          `mapstructure:"sinks"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of a fully-populated Config and
// returns the first problem found. Input paths are not checked here since
// individual commands need different subsets of them.
func (c *Config) Validate() error {
	// Model
	if c.Model.HiddenWidth < 1 {
		return fmt.Errorf("config: model.hidden_width must be ≥ 1, got %d", c.Model.HiddenWidth)
	}
	if c.Model.EmbeddingWidth < 1 {
		return fmt.Errorf("config: model.embedding_width must be ≥ 1, got %d", c.Model.EmbeddingWidth)
	}
	if len(c.Model.FusionWidths) == 0 {
		return fmt.Errorf("config: model.fusion_widths must contain at least one layer width")
	}
	for i, w := range c.Model.FusionWidths {
		if w < 1 {
			return fmt.Errorf("config: model.fusion_widths[%d] must be ≥ 1, got %d", i, w)
		}
	}

	// Alignment / recommendation
	if c.Alignment.MethylationFeatureCap < 1 {
		return fmt.Errorf("config: alignment.methylation_feature_cap must be ≥ 1, got %d", c.Alignment.MethylationFeatureCap)
	}
	if c.Recommendation.TopK < 1 {
		return fmt.Errorf("config: recommendation.top_k must be ≥ 1, got %d", c.Recommendation.TopK)
	}

	// Survival
	switch c.Survival.TiePolicy {
	case "ge", "gt":
	default:
		return fmt.Errorf("config: survival.tie_policy %q is invalid; expected ge|gt", c.Survival.TiePolicy)
	}

	// Outputs
	if c.Outputs.Dir == "" {
		return fmt.Errorf("config: outputs.dir is required")
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("config: metrics.namespace is required when metrics are enabled")
	}

	return c.Sinks.validate()
}

func (s *SinksConfig) validate() error {
	if s.MinIO.Enabled {
		if s.MinIO.Endpoint == "" {
			return fmt.Errorf("config: sinks.minio.endpoint is required")
		}
		if s.MinIO.ArtifactBucket == "" {
			return fmt.Errorf("config: sinks.minio.artifact_bucket is required")
		}
	}
	if s.Postgres.Enabled {
		if s.Postgres.Host == "" {
			return fmt.Errorf("config: sinks.postgres.host is required")
		}
		if s.Postgres.Port < 1 || s.Postgres.Port > 65535 {
			return fmt.Errorf("config: sinks.postgres.port %d is out of range [1, 65535]", s.Postgres.Port)
		}
		if s.Postgres.User == "" {
			return fmt.Errorf("config: sinks.postgres.user is required")
		}
		if s.Postgres.DBName == "" {
			return fmt.Errorf("config: sinks.postgres.db_name is required")
		}
	}
	if s.Redis.Enabled {
		if s.Redis.Addr == "" {
			return fmt.Errorf("config: sinks.redis.addr is required")
		}
		if s.Redis.DB < 0 {
			return fmt.Errorf("config: sinks.redis.db must be ≥ 0, got %d", s.Redis.DB)
		}
	}
	if s.Kafka.Enabled {
		if len(s.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: sinks.kafka.brokers must contain at least one broker address")
		}
		if s.Kafka.CompletedTopic == "" {
			return fmt.Errorf("config: sinks.kafka.completed_topic is required")
		}
	}
	if s.Milvus.Enabled && s.Milvus.Addr == "" {
		return fmt.Errorf("config: sinks.milvus.addr is required")
	}
	if s.Neo4j.Enabled && s.Neo4j.URI == "" {
		return fmt.Errorf("config: sinks.neo4j.uri is required")
	}
	return nil
}
