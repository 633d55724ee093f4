package lookup

import (
	"context"

	"github.com/RuoyuGao1/cancer-system/internal/config"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/database/neo4j"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/database/redis"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/search/milvus"
)

// Open connects the enabled read backends among Redis, Neo4j and Milvus and
// returns a service over them. The returned cleanup closes every client.
func Open(ctx context.Context, cfg config.SinksConfig, embeddingsPath string, log logging.Logger) (*Service, func(), error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("Closing lookup client failed", logging.Err(err))
			}
		}
		closers = nil
	}
	fail := func(err error) (*Service, func(), error) {
		cleanup()
		return nil, nil, err
	}

	opts := []Option{WithEmbeddingsFile(embeddingsPath)}
	var backends []string

	if cfg.Redis.Enabled {
		c, err := redis.NewClient(cfg.Redis, log.Named("redis"))
		if err != nil {
			return fail(err)
		}
		closers = append(closers, c.Close)
		opts = append(opts, WithCache(redis.NewResultCache(c, log.Named("redis"))))
		backends = append(backends, "redis")
	}

	if cfg.Neo4j.Enabled {
		d, err := neo4j.NewDriver(cfg.Neo4j, log.Named("neo4j"))
		if err != nil {
			return fail(err)
		}
		closers = append(closers, d.Close)
		opts = append(opts, WithGraph(neo4j.NewRecommendationGraph(d, log.Named("neo4j"))))
		backends = append(backends, "neo4j")
	}

	if cfg.Milvus.Enabled {
		c, err := milvus.NewClient(cfg.Milvus, log.Named("milvus"))
		if err != nil {
			return fail(err)
		}
		closers = append(closers, c.Close)
		opts = append(opts, WithIndex(milvus.NewEmbeddingIndex(c, log.Named("milvus"))))
		backends = append(backends, "milvus")
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	log.Debug("Lookup backends ready", logging.Strings("backends", backends))
	return NewService(log, opts...), cleanup, nil
}
