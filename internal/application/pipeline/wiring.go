package pipeline

import (
	"context"

	"github.com/RuoyuGao1/cancer-system/internal/config"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/database/neo4j"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/database/postgres"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/database/redis"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/messaging/kafka"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/search/milvus"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/storage/minio"
)

// Infrastructure holds the clients of the enabled sinks.
type Infrastructure struct {
	Sinks   []Sink
	Weights WeightsFetcher

	// Producer is set when Kafka is enabled.
	Producer *kafka.Producer

	closers []func() error
	logger  logging.Logger
}

// Close releases every client in reverse open order.
func (in *Infrastructure) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i](); err != nil {
			in.logger.Warn("Closing sink client failed", logging.Err(err))
		}
	}
	in.closers = nil
}

// Options returns the runner options that wire these clients in.
func (in *Infrastructure) Options() []Option {
	opts := []Option{WithSinks(in.Sinks...)}
	if in.Weights != nil {
		opts = append(opts, WithWeightsFetcher(in.Weights))
	}
	return opts
}

// OpenInfrastructure connects every enabled sink. A connection failure
// closes what was already opened and is returned.
func OpenInfrastructure(ctx context.Context, cfg config.SinksConfig, log logging.Logger) (*Infrastructure, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	in := &Infrastructure{logger: log}
	fail := func(err error) (*Infrastructure, error) {
		in.Close()
		return nil, err
	}

	if cfg.MinIO.Enabled {
		c, err := minio.NewMinIOClient(cfg.MinIO, log.Named("minio"))
		if err != nil {
			return fail(err)
		}
		store := minio.NewArtifactStore(c, log.Named("minio"))
		in.Sinks = append(in.Sinks, &ObjectStoreSink{Store: store})
		in.Weights = store
	}

	if cfg.Postgres.Enabled {
		if cfg.Postgres.AutoMigrate {
			if err := postgres.NewMigrator(cfg.Postgres, log.Named("migrate")).Up(); err != nil {
				return fail(err)
			}
		}
		pool, err := postgres.NewConnectionPool(cfg.Postgres, log.Named("postgres"))
		if err != nil {
			return fail(err)
		}
		in.closers = append(in.closers, func() error { postgres.Close(pool); return nil })
		in.Sinks = append(in.Sinks, &RunRepositorySink{Repo: postgres.NewRunRepository(pool, log.Named("postgres"))})
	}

	if cfg.Redis.Enabled {
		c, err := redis.NewClient(cfg.Redis, log.Named("redis"))
		if err != nil {
			return fail(err)
		}
		in.closers = append(in.closers, c.Close)
		in.Sinks = append(in.Sinks, &CacheSink{Cache: redis.NewResultCache(c, log.Named("redis"))})
	}

	if cfg.Milvus.Enabled {
		c, err := milvus.NewClient(cfg.Milvus, log.Named("milvus"))
		if err != nil {
			return fail(err)
		}
		in.closers = append(in.closers, c.Close)
		in.Sinks = append(in.Sinks, &EmbeddingIndexSink{Index: milvus.NewEmbeddingIndex(c, log.Named("milvus"))})
	}

	if cfg.Neo4j.Enabled {
		d, err := neo4j.NewDriver(cfg.Neo4j, log.Named("neo4j"))
		if err != nil {
			return fail(err)
		}
		in.closers = append(in.closers, d.Close)
		graph := neo4j.NewRecommendationGraph(d, log.Named("neo4j"))
		if err := graph.EnsureConstraints(ctx); err != nil {
			return fail(err)
		}
		in.Sinks = append(in.Sinks, &GraphSink{Graph: graph})
	}

	if cfg.Kafka.Enabled {
		p, err := kafka.NewProducer(cfg.Kafka, log.Named("kafka"))
		if err != nil {
			return fail(err)
		}
		in.closers = append(in.closers, p.Close)
		in.Producer = p
		in.Sinks = append(in.Sinks, &EventSink{Publisher: p})
	}

	names := make([]string, len(in.Sinks))
	for i, s := range in.Sinks {
		names[i] = s.Name()
	}
	log.Info("Result sinks ready", logging.Strings("sinks", names))
	return in, nil
}
