// Package config provides configuration loading, defaults, and validation for
// the oncofuse pipeline.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// envPrefix is the environment variable prefix used by every setting.
const envPrefix = "ONCOFUSE"

// newViper builds a Viper instance with YAML file type, ONCOFUSE_ env prefix,
// automatic env binding and a "." → "_" key replacer, so that "model.seed"
// resolves to ONCOFUSE_MODEL_SEED. Defaults are registered as viper defaults
// so that every key is known to Unmarshal and can be overridden from env.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	registerDefaults(v, Default())
	return v
}

func registerDefaults(v *viper.Viper, d *Config) {
	for key, val := range map[string]interface{}{
		"inputs.expression":       d.Inputs.Expression,
		"inputs.mutation":         d.Inputs.Mutation,
		"inputs.methylation":      d.Inputs.Methylation,
		"inputs.drugs":            d.Inputs.Drugs,
		"inputs.clinical":         d.Inputs.Clinical,
		"inputs.sample_id_column": d.Inputs.SampleIDColumn,
		"inputs.drug_id_column":   d.Inputs.DrugIDColumn,

		"outputs.dir":             d.Outputs.Dir,
		"outputs.results":         d.Outputs.Results,
		"outputs.embeddings":      d.Outputs.Embeddings,
		"outputs.recommendations": d.Outputs.Recommendations,
		"outputs.cox_input":       d.Outputs.CoxInput,
		"outputs.risk_groups":     d.Outputs.RiskGroups,
		"outputs.manifest":        d.Outputs.Manifest,

		"model.hidden_width":    d.Model.HiddenWidth,
		"model.embedding_width": d.Model.EmbeddingWidth,
		"model.fusion_widths":   d.Model.FusionWidths,
		"model.seed":            d.Model.Seed,
		"model.weights_path":    d.Model.WeightsPath,
		"model.weights_object":  d.Model.WeightsObject,

		"alignment.methylation_feature_cap": d.Alignment.MethylationFeatureCap,
		"recommendation.top_k":              d.Recommendation.TopK,
		"survival.time_column":              d.Survival.TimeColumn,
		"survival.event_column":             d.Survival.EventColumn,
		"survival.tie_policy":               d.Survival.TiePolicy,

		"log.level":  d.Log.Level,
		"log.format": d.Log.Format,
		"log.output": d.Log.Output,
		"log.caller": d.Log.Caller,

		"metrics.enabled":         d.Metrics.Enabled,
		"metrics.namespace":       d.Metrics.Namespace,
		"metrics.pushgateway_url": d.Metrics.PushgatewayURL,
		"metrics.job":             d.Metrics.Job,
		"metrics.listen_addr":     d.Metrics.ListenAddr,

		"sinks.minio.enabled":         d.Sinks.MinIO.Enabled,
		"sinks.minio.endpoint":        d.Sinks.MinIO.Endpoint,
		"sinks.minio.access_key":      d.Sinks.MinIO.AccessKey,
		"sinks.minio.secret_key":      d.Sinks.MinIO.SecretKey,
		"sinks.minio.use_ssl":         d.Sinks.MinIO.UseSSL,
		"sinks.minio.region":          d.Sinks.MinIO.Region,
		"sinks.minio.artifact_bucket": d.Sinks.MinIO.ArtifactBucket,
		"sinks.minio.model_bucket":    d.Sinks.MinIO.ModelBucket,
		"sinks.minio.prefix":          d.Sinks.MinIO.Prefix,

		"sinks.postgres.enabled":            d.Sinks.Postgres.Enabled,
		"sinks.postgres.host":               d.Sinks.Postgres.Host,
		"sinks.postgres.port":               d.Sinks.Postgres.Port,
		"sinks.postgres.user":               d.Sinks.Postgres.User,
		"sinks.postgres.password":           d.Sinks.Postgres.Password,
		"sinks.postgres.db_name":            d.Sinks.Postgres.DBName,
		"sinks.postgres.ssl_mode":           d.Sinks.Postgres.SSLMode,
		"sinks.postgres.max_conns":          d.Sinks.Postgres.MaxConns,
		"sinks.postgres.min_conns":          d.Sinks.Postgres.MinConns,
		"sinks.postgres.conn_max_lifetime":  d.Sinks.Postgres.ConnMaxLifetime,
		"sinks.postgres.conn_max_idle_time": d.Sinks.Postgres.ConnMaxIdleTime,
		"sinks.postgres.auto_migrate":       d.Sinks.Postgres.AutoMigrate,

		"sinks.redis.enabled":       d.Sinks.Redis.Enabled,
		"sinks.redis.addr":          d.Sinks.Redis.Addr,
		"sinks.redis.password":      d.Sinks.Redis.Password,
		"sinks.redis.db":            d.Sinks.Redis.DB,
		"sinks.redis.pool_size":     d.Sinks.Redis.PoolSize,
		"sinks.redis.dial_timeout":  d.Sinks.Redis.DialTimeout,
		"sinks.redis.read_timeout":  d.Sinks.Redis.ReadTimeout,
		"sinks.redis.write_timeout": d.Sinks.Redis.WriteTimeout,
		"sinks.redis.ttl":           d.Sinks.Redis.TTL,
		"sinks.redis.key_prefix":    d.Sinks.Redis.KeyPrefix,

		"sinks.kafka.enabled":         d.Sinks.Kafka.Enabled,
		"sinks.kafka.brokers":         d.Sinks.Kafka.Brokers,
		"sinks.kafka.completed_topic": d.Sinks.Kafka.CompletedTopic,
		"sinks.kafka.failed_topic":    d.Sinks.Kafka.FailedTopic,
		"sinks.kafka.request_topic":   d.Sinks.Kafka.RequestTopic,
		"sinks.kafka.group_id":        d.Sinks.Kafka.GroupID,
		"sinks.kafka.write_timeout":   d.Sinks.Kafka.WriteTimeout,

		"sinks.milvus.enabled":    d.Sinks.Milvus.Enabled,
		"sinks.milvus.addr":       d.Sinks.Milvus.Addr,
		"sinks.milvus.db_name":    d.Sinks.Milvus.DBName,
		"sinks.milvus.username":   d.Sinks.Milvus.Username,
		"sinks.milvus.password":   d.Sinks.Milvus.Password,
		"sinks.milvus.collection": d.Sinks.Milvus.Collection,

		"sinks.neo4j.enabled":  d.Sinks.Neo4j.Enabled,
		"sinks.neo4j.uri":      d.Sinks.Neo4j.URI,
		"sinks.neo4j.username": d.Sinks.Neo4j.Username,
		"sinks.neo4j.password": d.Sinks.Neo4j.Password,
		"sinks.neo4j.database": d.Sinks.Neo4j.Database,
	} {
		v.SetDefault(key, val)
	}
}

// Load reads the YAML file at configPath, merges ONCOFUSE_* environment
// overrides, applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, errors.CodeConfigInvalid, "config: failed to read config file %q", configPath)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from defaults and ONCOFUSE_* environment
// variables only.
//
//	ONCOFUSE_<SECTION>_<FIELD>   e.g.  ONCOFUSE_RECOMMENDATION_TOP_K=10
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

// LoadOrDefault loads configPath when it is non-empty and falls back to
// LoadFromEnv otherwise.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	return Load(configPath)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigInvalid, "config: failed to unmarshal configuration")
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigInvalid, "config: validation failed")
	}

	return cfg, nil
}

// Watch monitors configPath and calls onChange with the re-parsed Config
// whenever the file changes. A change that fails to parse or validate is
// passed to onError (when non-nil) and onChange is not called. Watch is
// non-blocking; viper owns the watcher goroutine.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, errors.CodeConfigInvalid, "config: failed to read config file %q", configPath)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad wraps Load and panics on any error. Intended for main().
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
