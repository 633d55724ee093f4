package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// Field names of the patient embedding collection.
const (
	FieldSampleID  = "sample_id"
	FieldRunID     = "run_id"
	FieldEmbedding = "embedding"

	idMaxLength = 64
	shardsNum   = 1
)

// Neighbor is one nearest-patient hit. Score is the cosine similarity.
type Neighbor struct {
	SampleID string
	RunID    string
	Score    float32
}

// EmbeddingIndex stores one vector per sample. A later run overwrites the
// sample's earlier vector.
type EmbeddingIndex struct {
	client     *Client
	collection string
	logger     logging.Logger
}

// NewEmbeddingIndex uses the collection configured on client.
func NewEmbeddingIndex(c *Client, logger logging.Logger) *EmbeddingIndex {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EmbeddingIndex{client: c, collection: c.config.Collection, logger: logger}
}

// Schema describes the collection for vectors of width dim.
func Schema(collection string, dim int) *entity.Schema {
	return entity.NewSchema().
		WithName(collection).
		WithDescription("patient latent embeddings").
		WithField(entity.NewField().
			WithName(FieldSampleID).
			WithDataType(entity.FieldTypeVarChar).
			WithIsPrimaryKey(true).
			WithMaxLength(idMaxLength)).
		WithField(entity.NewField().
			WithName(FieldRunID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(idMaxLength)).
		WithField(entity.NewField().
			WithName(FieldEmbedding).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim)))
}

// EnsureCollection creates, indexes and loads the collection when missing.
// An existing collection must have the same vector width.
func (x *EmbeddingIndex) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return errors.New(errors.CodeInvalidParam, "embedding width must be positive").WithDetailf("dim=%d", dim)
	}
	mc := x.client.GetMilvusClient()

	has, err := mc.HasCollection(ctx, x.collection)
	if err != nil {
		return errors.Wrapf(err, errors.CodeSearchError, "check collection %s", x.collection)
	}
	if has {
		coll, err := mc.DescribeCollection(ctx, x.collection)
		if err != nil {
			return errors.Wrapf(err, errors.CodeSearchError, "describe collection %s", x.collection)
		}
		if got := vectorDim(coll.Schema); got != dim {
			return errors.New(errors.CodeWidthMismatch, "collection vector width differs from embedding width").
				WithDetailf("collection=%s expected=%d actual=%d", x.collection, dim, got)
		}
	} else {
		if err := mc.CreateCollection(ctx, Schema(x.collection, dim), shardsNum); err != nil {
			return errors.Wrapf(err, errors.CodeSearchError, "create collection %s", x.collection)
		}
		idx, err := entity.NewIndexFlat(entity.COSINE)
		if err != nil {
			return errors.Wrap(err, errors.CodeSearchError, "build flat index")
		}
		if err := mc.CreateIndex(ctx, x.collection, FieldEmbedding, idx, false); err != nil {
			return errors.Wrapf(err, errors.CodeSearchError, "index collection %s", x.collection)
		}
		x.logger.Info("Collection created", logging.String("name", x.collection), logging.Int("dim", dim))
	}

	if err := mc.LoadCollection(ctx, x.collection, false); err != nil {
		return errors.Wrapf(err, errors.CodeSearchError, "load collection %s", x.collection)
	}
	return nil
}

func vectorDim(schema *entity.Schema) int {
	if schema == nil {
		return 0
	}
	for _, f := range schema.Fields {
		if f.Name != FieldEmbedding {
			continue
		}
		dim, _ := strconv.Atoi(f.TypeParams[entity.TypeParamDim])
		return dim
	}
	return 0
}

// Upsert writes the embedding of every patient in result and flushes.
func (x *EmbeddingIndex) Upsert(ctx context.Context, result *run.Result) error {
	ids, runIDs, vectors, err := embeddingColumns(result)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := x.EnsureCollection(ctx, result.EmbeddingWidth); err != nil {
		return err
	}

	mc := x.client.GetMilvusClient()
	if _, err := mc.Upsert(ctx, x.collection, "",
		entity.NewColumnVarChar(FieldSampleID, ids),
		entity.NewColumnVarChar(FieldRunID, runIDs),
		entity.NewColumnFloatVector(FieldEmbedding, result.EmbeddingWidth, vectors),
	); err != nil {
		return errors.Wrapf(err, errors.CodeSearchError, "upsert embeddings of run %s", result.RunID)
	}
	if err := mc.Flush(ctx, x.collection, false); err != nil {
		return errors.Wrapf(err, errors.CodeSearchError, "flush collection %s", x.collection)
	}

	x.logger.Debug("embeddings upserted",
		logging.String("run_id", result.RunID),
		logging.Int("count", len(ids)))
	return nil
}

// embeddingColumns converts the patients to column data. Every patient must
// carry an embedding of the run's width.
func embeddingColumns(result *run.Result) (ids, runIDs []string, vectors [][]float32, err error) {
	if result == nil {
		return nil, nil, nil, errors.New(errors.CodeInvalidParam, "run result is nil")
	}
	for _, p := range result.Patients {
		if len(p.Embedding) != result.EmbeddingWidth {
			return nil, nil, nil, errors.New(errors.CodeWidthMismatch, "patient embedding has the wrong width").
				WithDetailf("sample_id=%s expected=%d actual=%d", p.SampleID, result.EmbeddingWidth, len(p.Embedding))
		}
		ids = append(ids, p.SampleID)
		runIDs = append(runIDs, result.RunID)
		vectors = append(vectors, toFloat32(p.Embedding))
	}
	return ids, runIDs, vectors, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// NearestPatients returns up to k samples closest to vector by cosine
// similarity, best first. A non-empty runID restricts the search to that run.
func (x *EmbeddingIndex) NearestPatients(ctx context.Context, vector []float64, k int, runID string) ([]Neighbor, error) {
	if k <= 0 {
		return nil, errors.New(errors.CodeInvalidParam, "k must be positive").WithDetailf("k=%d", k)
	}
	sp, err := entity.NewIndexFlatSearchParam()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSearchError, "build search params")
	}

	results, err := x.client.GetMilvusClient().Search(ctx, x.collection, []string{}, runFilter(runID),
		[]string{FieldRunID},
		[]entity.Vector{entity.FloatVector(toFloat32(vector))},
		FieldEmbedding, entity.COSINE, k, sp,
	)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeSearchError, "search collection %s", x.collection)
	}
	return convertSearchResults(results)
}

func runFilter(runID string) string {
	if runID == "" {
		return ""
	}
	return fmt.Sprintf("%s == \"%s\"", FieldRunID, strings.ReplaceAll(runID, `"`, `\"`))
}

func convertSearchResults(results []client.SearchResult) ([]Neighbor, error) {
	var out []Neighbor
	for _, res := range results {
		if res.Err != nil {
			return nil, errors.Wrap(res.Err, errors.CodeSearchError, "search result")
		}
		runCol := res.Fields.GetColumn(FieldRunID)
		for i := 0; i < res.ResultCount; i++ {
			id, err := res.IDs.GetAsString(i)
			if err != nil {
				return nil, errors.Wrap(err, errors.CodeSearchError, "read hit id")
			}
			n := Neighbor{SampleID: id, Score: res.Scores[i]}
			if runCol != nil {
				n.RunID, _ = runCol.GetAsString(i)
			}
			out = append(out, n)
		}
	}
	return out, nil
}
