package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/database/neo4j"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/database/postgres"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/database/redis"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/search/milvus"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/storage/minio"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// Sink names, also used as the sink metric label.
const (
	SinkMinIO    = "minio"
	SinkPostgres = "postgres"
	SinkRedis    = "redis"
	SinkMilvus   = "milvus"
	SinkNeo4j    = "neo4j"
	SinkKafka    = "kafka"
)

// sinkOrder is the publish order. The object store goes first so later
// sinks see the uploaded keys; the event goes last so it announces a run
// whose results are already stored.
var sinkOrder = map[string]int{
	SinkMinIO:    0,
	SinkPostgres: 1,
	SinkRedis:    2,
	SinkMilvus:   3,
	SinkNeo4j:    4,
	SinkKafka:    5,
}

// Sink receives a finished run. Sinks are write-only.
type Sink interface {
	Name() string
	Publish(ctx context.Context, result *run.Result) error
}

// FailureNotifier is implemented by sinks that also announce failed runs.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, runID string, err error) error
}

func sortSinks(sinks []Sink) []Sink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	rank := func(s Sink) int {
		if r, ok := sinkOrder[s.Name()]; ok {
			return r
		}
		return len(sinkOrder)
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

// publish hands result to every sink in order. A failing sink does not stop
// the others; all failures are joined.
func (r *Runner) publish(ctx context.Context, result *run.Result, log logging.Logger) error {
	if len(r.sinks) == 0 {
		return nil
	}
	timer := r.metrics.StartStage(stagePublish)
	var errs []error
	for _, s := range r.sinks {
		t := time.Now()
		if err := s.Publish(ctx, result); err != nil {
			log.Error("Sink publish failed", logging.String("sink", s.Name()), logging.Err(err))
			r.metrics.RecordSinkFailure(s.Name())
			errs = append(errs, errors.Wrapf(err, sinkCode(err), "sink %s", s.Name()))
			continue
		}
		log.Debug("Sink published", logging.String("sink", s.Name()), logging.Duration("elapsed", time.Since(t)))
	}
	elapsed := timer.ObserveDuration()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Info("Run published", logging.Int("sinks", len(r.sinks)), logging.Duration("elapsed", elapsed))
	return nil
}

func (r *Runner) notifyFailure(ctx context.Context, runID string, runErr error, log logging.Logger) {
	for _, s := range r.sinks {
		n, ok := s.(FailureNotifier)
		if !ok {
			continue
		}
		if err := n.NotifyFailure(ctx, runID, runErr); err != nil {
			log.Error("Failure notification failed", logging.String("sink", s.Name()), logging.Err(err))
			r.metrics.RecordSinkFailure(s.Name())
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Adapters
// ─────────────────────────────────────────────────────────────────────────────

// ObjectStoreSink uploads the run's local artifacts and records their keys.
type ObjectStoreSink struct {
	Store minio.ArtifactStore
}

func (s *ObjectStoreSink) Name() string { return SinkMinIO }

func (s *ObjectStoreSink) Publish(ctx context.Context, result *run.Result) error {
	keys, err := s.Store.UploadRun(ctx, result.RunID, result.Artifacts)
	result.ObjectKeys = keys
	return err
}

// RunRepositorySink stores the run in Postgres.
type RunRepositorySink struct {
	Repo postgres.RunRepository
}

func (s *RunRepositorySink) Name() string { return SinkPostgres }

func (s *RunRepositorySink) Publish(ctx context.Context, result *run.Result) error {
	return s.Repo.SaveRun(ctx, result)
}

// CacheSink refreshes the per-patient lookup cache.
type CacheSink struct {
	Cache redis.ResultCache
}

func (s *CacheSink) Name() string { return SinkRedis }

func (s *CacheSink) Publish(ctx context.Context, result *run.Result) error {
	return s.Cache.StoreRun(ctx, result)
}

// EmbeddingIndex is the part of milvus.EmbeddingIndex the sink uses.
type EmbeddingIndex interface {
	EnsureCollection(ctx context.Context, dim int) error
	Upsert(ctx context.Context, result *run.Result) error
}

var _ EmbeddingIndex = (*milvus.EmbeddingIndex)(nil)

// EmbeddingIndexSink upserts patient embeddings into the vector index.
type EmbeddingIndexSink struct {
	Index EmbeddingIndex
}

func (s *EmbeddingIndexSink) Name() string { return SinkMilvus }

func (s *EmbeddingIndexSink) Publish(ctx context.Context, result *run.Result) error {
	if result.EmbeddingWidth < 1 {
		return errors.New(errors.CodeSearchError, "run has no embeddings to index")
	}
	if err := s.Index.EnsureCollection(ctx, result.EmbeddingWidth); err != nil {
		return err
	}
	return s.Index.Upsert(ctx, result)
}

// GraphSink merges recommendation edges into the graph.
type GraphSink struct {
	Graph neo4j.RecommendationGraph
}

func (s *GraphSink) Name() string { return SinkNeo4j }

func (s *GraphSink) Publish(ctx context.Context, result *run.Result) error {
	_, err := s.Graph.SaveRun(ctx, result)
	return err
}

// EventPublisher is the part of kafka.Producer the event sink uses.
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, ev run.Event) error
}

// EventSink announces completed and failed runs.
type EventSink struct {
	Publisher EventPublisher
	Now       func() time.Time
}

func (s *EventSink) Name() string { return SinkKafka }

func (s *EventSink) Publish(ctx context.Context, result *run.Result) error {
	return s.Publisher.PublishRunEvent(ctx, run.CompletedEvent(result, RequestIDFromContext(ctx)))
}

func (s *EventSink) NotifyFailure(ctx context.Context, runID string, err error) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.Publisher.PublishRunEvent(ctx, run.FailedEvent(runID, RequestIDFromContext(ctx), err, now().UTC()))
}

// ─────────────────────────────────────────────────────────────────────────────
// Request correlation
// ─────────────────────────────────────────────────────────────────────────────

type requestIDKey struct{}

// ContextWithRequestID tags ctx with the ID of the request that started a run.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID set by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func sinkCode(err error) errors.ErrorCode {
	if c := errors.GetCode(err); c != errors.CodeUnknown {
		return c
	}
	return errors.CodeInternal
}
