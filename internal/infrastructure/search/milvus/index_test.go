package milvus

import (
	"context"
	"fmt"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// mockMilvusClient overrides the SDK calls the index makes. Any other call
// panics on the nil embedded interface.
type mockMilvusClient struct {
	client.Client

	health    *entity.MilvusState
	healthErr error
	closed    int

	exists     bool
	schema     *entity.Schema
	created    *entity.Schema
	indexed    entity.Index
	loaded     int
	upserted   []entity.Column
	upsertErr  error
	flushed    int
	searchExpr string
	searchTopK int
	results    []client.SearchResult
}

func (m *mockMilvusClient) CheckHealth(context.Context) (*entity.MilvusState, error) {
	if m.healthErr != nil {
		return nil, m.healthErr
	}
	if m.health != nil {
		return m.health, nil
	}
	return &entity.MilvusState{IsHealthy: true}, nil
}

func (m *mockMilvusClient) Close() error {
	m.closed++
	return nil
}

func (m *mockMilvusClient) HasCollection(context.Context, string) (bool, error) {
	return m.exists, nil
}

func (m *mockMilvusClient) DescribeCollection(_ context.Context, name string) (*entity.Collection, error) {
	return &entity.Collection{Name: name, Schema: m.schema}, nil
}

func (m *mockMilvusClient) CreateCollection(_ context.Context, schema *entity.Schema, _ int32, _ ...client.CreateCollectionOption) error {
	m.created = schema
	m.exists = true
	m.schema = schema
	return nil
}

func (m *mockMilvusClient) CreateIndex(_ context.Context, _ string, _ string, idx entity.Index, _ bool, _ ...client.IndexOption) error {
	m.indexed = idx
	return nil
}

func (m *mockMilvusClient) LoadCollection(context.Context, string, bool, ...client.LoadCollectionOption) error {
	m.loaded++
	return nil
}

func (m *mockMilvusClient) Upsert(_ context.Context, _ string, _ string, columns ...entity.Column) (entity.Column, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	m.upserted = columns
	return columns[0], nil
}

func (m *mockMilvusClient) Flush(context.Context, string, bool, ...client.FlushOption) error {
	m.flushed++
	return nil
}

func (m *mockMilvusClient) Search(_ context.Context, _ string, _ []string, expr string, _ []string, _ []entity.Vector,
	_ string, _ entity.MetricType, topK int, _ entity.SearchParam, _ ...client.SearchQueryOptionFunc,
) ([]client.SearchResult, error) {
	m.searchExpr = expr
	m.searchTopK = topK
	return m.results, nil
}

type EmbeddingIndexTestSuite struct {
	suite.Suite
	mock  *mockMilvusClient
	index *EmbeddingIndex
	ctx   context.Context
}

func (s *EmbeddingIndexTestSuite) SetupTest() {
	s.mock = &mockMilvusClient{}
	s.index = NewEmbeddingIndex(NewClientWithSDK(s.mock, newTestMilvusConfig(), nil), nil)
	s.ctx = context.Background()
}

func testRun() *run.Result {
	return &run.Result{
		RunID:          "run-1",
		EmbeddingWidth: 3,
		Patients: []run.PatientResult{
			{SampleID: "A", Embedding: []float64{1, 0, 0}},
			{SampleID: "B", Embedding: []float64{0, 1, 0}},
		},
	}
}

func (s *EmbeddingIndexTestSuite) TestUpsert_CreatesCollectionOnce() {
	s.Require().NoError(s.index.Upsert(s.ctx, testRun()))

	s.Require().NotNil(s.mock.created)
	s.Equal("patient_embeddings", s.mock.created.CollectionName)
	s.Equal(3, vectorDim(s.mock.created))
	s.Require().NotNil(s.mock.indexed)
	s.Equal(entity.Flat, s.mock.indexed.IndexType())
	s.Equal(1, s.mock.loaded)
	s.Equal(1, s.mock.flushed)

	s.Require().Len(s.mock.upserted, 3)
	s.Equal(FieldSampleID, s.mock.upserted[0].Name())
	s.Equal(2, s.mock.upserted[0].Len())
	id, err := s.mock.upserted[0].GetAsString(1)
	s.Require().NoError(err)
	s.Equal("B", id)

	s.mock.created = nil
	s.Require().NoError(s.index.Upsert(s.ctx, testRun()))
	s.Nil(s.mock.created)
	s.Equal(2, s.mock.loaded)
}

func (s *EmbeddingIndexTestSuite) TestUpsert_WidthMismatchWithExistingCollection() {
	s.mock.exists = true
	s.mock.schema = Schema("patient_embeddings", 8)

	err := s.index.Upsert(s.ctx, testRun())
	s.True(errors.IsCode(err, errors.CodeWidthMismatch))
	s.Nil(s.mock.upserted)
}

func (s *EmbeddingIndexTestSuite) TestUpsert_PatientWidthMismatch() {
	r := testRun()
	r.Patients[1].Embedding = []float64{1}
	err := s.index.Upsert(s.ctx, r)
	s.True(errors.IsCode(err, errors.CodeWidthMismatch))
}

func (s *EmbeddingIndexTestSuite) TestUpsert_Failure() {
	s.mock.upsertErr = fmt.Errorf("rpc error")
	err := s.index.Upsert(s.ctx, testRun())
	s.True(errors.IsCode(err, errors.CodeSearchError))
	s.Equal(0, s.mock.flushed)
}

func (s *EmbeddingIndexTestSuite) TestUpsert_EmptyRunIsNoop() {
	s.Require().NoError(s.index.Upsert(s.ctx, &run.Result{RunID: "r", EmbeddingWidth: 3}))
	s.Nil(s.mock.created)
}

func (s *EmbeddingIndexTestSuite) TestNearestPatients() {
	s.mock.results = []client.SearchResult{{
		ResultCount: 2,
		IDs:         entity.NewColumnVarChar(FieldSampleID, []string{"B", "A"}),
		Scores:      []float32{0.99, 0.5},
		Fields:      client.ResultSet{entity.NewColumnVarChar(FieldRunID, []string{"run-1", "run-0"})},
	}}

	hits, err := s.index.NearestPatients(s.ctx, []float64{0, 1, 0}, 2, "run-1")
	s.Require().NoError(err)
	s.Equal(`run_id == "run-1"`, s.mock.searchExpr)
	s.Equal(2, s.mock.searchTopK)
	s.Equal([]Neighbor{
		{SampleID: "B", RunID: "run-1", Score: 0.99},
		{SampleID: "A", RunID: "run-0", Score: 0.5},
	}, hits)
}

func (s *EmbeddingIndexTestSuite) TestNearestPatients_InvalidK() {
	_, err := s.index.NearestPatients(s.ctx, []float64{1}, 0, "")
	s.True(errors.IsCode(err, errors.CodeInvalidParam))
}

func TestEmbeddingIndexTestSuite(t *testing.T) {
	suite.Run(t, new(EmbeddingIndexTestSuite))
}

func TestRunFilter(t *testing.T) {
	assert.Equal(t, "", runFilter(""))
	assert.Equal(t, `run_id == "a\"b"`, runFilter(`a"b`))
}

func TestSchemaFields(t *testing.T) {
	schema := Schema("c", 32)
	require.Len(t, schema.Fields, 3)
	assert.True(t, schema.Fields[0].PrimaryKey)
	assert.Equal(t, entity.FieldTypeVarChar, schema.Fields[0].DataType)
	assert.Equal(t, 32, vectorDim(schema))
}
