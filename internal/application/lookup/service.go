// Package lookup answers read-only questions about published runs from the
// result sinks: the cached patient entry, its recommendation edges, and its
// nearest neighbours in latent space.
package lookup

import (
	"context"
	"math"
	"os"

	"github.com/RuoyuGao1/cancer-system/internal/domain/omics"
	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/database/neo4j"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/database/redis"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/search/milvus"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/storage/tabular"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// PatientCache is the read side of the Redis result cache.
type PatientCache interface {
	GetPatient(ctx context.Context, sampleID string) (*redis.CachedPatient, error)
	GetRun(ctx context.Context, runID string) (*run.Result, error)
	RunPatients(ctx context.Context, runID string) ([]string, error)
}

// Graph is the read side of the recommendation graph.
type Graph interface {
	RecommendationsFor(ctx context.Context, sampleID, runID string) ([]neo4j.Edge, error)
	PatientsForCompound(ctx context.Context, compound, runID string) ([]neo4j.Edge, error)
}

// NeighborIndex is the read side of the embedding index.
type NeighborIndex interface {
	NearestPatients(ctx context.Context, vector []float64, k int, runID string) ([]milvus.Neighbor, error)
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables patient and run lookups.
func WithCache(c PatientCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithGraph enables recommendation edge lookups.
func WithGraph(g Graph) Option {
	return func(s *Service) { s.graph = g }
}

// WithIndex enables neighbour search.
func WithIndex(x NeighborIndex) Option {
	return func(s *Service) { s.index = x }
}

// WithEmbeddingsFile names the local embeddings file used when the cache
// holds no vector for a sample.
func WithEmbeddingsFile(path string) Option {
	return func(s *Service) { s.embeddingsPath = path }
}

// Service reads back what earlier runs published.
type Service struct {
	cache          PatientCache
	graph          Graph
	index          NeighborIndex
	embeddingsPath string
	logger         logging.Logger
}

// NewService builds a service over whichever backends are given.
func NewService(log logging.Logger, opts ...Option) *Service {
	if log == nil {
		log = logging.NewNopLogger()
	}
	s := &Service{logger: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PatientView is the cached entry of one sample plus its graph edges.
type PatientView struct {
	SampleID        string       `json:"sample_id"`
	Cached          bool         `json:"cached"`
	RunID           string       `json:"run_id,omitempty"`
	Risk            *float64     `json:"predicted_risk,omitempty"`
	Compounds       []string     `json:"compounds,omitempty"`
	Scores          []float64    `json:"scores,omitempty"`
	Recommendations []neo4j.Edge `json:"recommendations,omitempty"`
}

// RunView is a cached run with the samples it covered.
type RunView struct {
	Run      *run.Result `json:"run"`
	Patients []string    `json:"patients"`
}

// Neighbor is one nearest patient of a query sample.
type Neighbor struct {
	SampleID string  `json:"sample_id"`
	RunID    string  `json:"run_id"`
	Score    float32 `json:"score"`
}

func notEnabled(backend string) error {
	return errors.Newf(errors.CodeInvalidParam, "sinks.%s is not enabled", backend)
}

func normalizeID(raw string) (string, error) {
	id := omics.NormalizeSampleID(raw)
	if id == "" {
		return "", errors.New(errors.CodeEmptySampleID, "sample id is empty")
	}
	return id, nil
}

// Patient reads the cache entry of sampleID and, when a graph is
// configured, its recommendation edges. runID narrows the edges to one run.
// A cache miss is not an error as long as the graph has edges.
func (s *Service) Patient(ctx context.Context, sampleID, runID string) (*PatientView, error) {
	if s.cache == nil && s.graph == nil {
		return nil, notEnabled("redis")
	}
	id, err := normalizeID(sampleID)
	if err != nil {
		return nil, err
	}
	view := &PatientView{SampleID: id}

	if s.cache != nil {
		p, err := s.cache.GetPatient(ctx, id)
		switch {
		case err == nil:
			view.Cached = true
			view.RunID = p.RunID
			view.Compounds = p.Compounds
			view.Scores = p.Scores
			if !math.IsNaN(p.Risk) {
				risk := p.Risk
				view.Risk = &risk
			}
		case errors.IsCode(err, errors.CodeNotFound):
			s.logger.Debug("Patient not cached", logging.String("sample_id", id))
		default:
			return nil, err
		}
	}

	if s.graph != nil {
		edges, err := s.graph.RecommendationsFor(ctx, id, runID)
		if err != nil {
			return nil, err
		}
		view.Recommendations = edges
	}

	if !view.Cached && len(view.Recommendations) == 0 {
		return nil, errors.NotFound("no published result for sample").WithDetailf("sample_id=%s", id)
	}
	return view, nil
}

// Run reads the cached metadata and patient list of runID.
func (s *Service) Run(ctx context.Context, runID string) (*RunView, error) {
	if s.cache == nil {
		return nil, notEnabled("redis")
	}
	if runID == "" {
		return nil, errors.InvalidParam("run id is required")
	}
	res, err := s.cache.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	ids, err := s.cache.RunPatients(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunView{Run: res, Patients: ids}, nil
}

// CompoundPatients lists the patients compound was recommended to in runID.
func (s *Service) CompoundPatients(ctx context.Context, compound, runID string) ([]neo4j.Edge, error) {
	if s.graph == nil {
		return nil, notEnabled("neo4j")
	}
	if compound == "" || runID == "" {
		return nil, errors.InvalidParam("compound and run id are required")
	}
	return s.graph.PatientsForCompound(ctx, compound, runID)
}

// Neighbors returns up to k patients closest to sampleID in latent space,
// excluding the sample itself. runID restricts the search to one run.
func (s *Service) Neighbors(ctx context.Context, sampleID string, k int, runID string) ([]Neighbor, error) {
	if s.index == nil {
		return nil, notEnabled("milvus")
	}
	if k < 1 {
		return nil, errors.Newf(errors.CodeInvalidParam, "k must be at least 1, got %d", k)
	}
	id, err := normalizeID(sampleID)
	if err != nil {
		return nil, err
	}
	vector, err := s.embeddingOf(ctx, id)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.NearestPatients(ctx, vector, k+1, runID)
	if err != nil {
		return nil, err
	}
	out := make([]Neighbor, 0, k)
	for _, h := range hits {
		if h.SampleID == id {
			continue
		}
		if len(out) == k {
			break
		}
		out = append(out, Neighbor{SampleID: h.SampleID, RunID: h.RunID, Score: h.Score})
	}
	s.logger.Debug("Neighbours found",
		logging.String("sample_id", id),
		logging.Int("k", k),
		logging.Int("hits", len(out)))
	return out, nil
}

// embeddingOf prefers the cached vector and falls back to the local
// embeddings file.
func (s *Service) embeddingOf(ctx context.Context, id string) ([]float64, error) {
	if s.cache != nil {
		p, err := s.cache.GetPatient(ctx, id)
		if err == nil && len(p.Embedding) > 0 {
			return p.Embedding, nil
		}
		if err != nil && !errors.IsCode(err, errors.CodeNotFound) {
			return nil, err
		}
	}

	if s.embeddingsPath != "" {
		if _, err := os.Stat(s.embeddingsPath); err == nil {
			set, err := tabular.LoadEmbeddings(s.embeddingsPath)
			if err != nil {
				return nil, err
			}
			for i, sid := range set.SampleIDs {
				if sid == id {
					return set.Embedding(i).Vector, nil
				}
			}
		}
	}
	return nil, errors.NotFound("no embedding for sample").WithDetailf("sample_id=%s", id)
}
