package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/database/neo4j"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/prometheus"
	"github.com/RuoyuGao1/cancer-system/internal/testutil"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

type MockArtifactStore struct {
	mock.Mock
}

func (m *MockArtifactStore) UploadRun(ctx context.Context, runID string, files []string) ([]string, error) {
	args := m.Called(ctx, runID, files)
	keys, _ := args.Get(0).([]string)
	return keys, args.Error(1)
}

func (m *MockArtifactStore) FetchWeights(ctx context.Context, object, dst string) error {
	return m.Called(ctx, object, dst).Error(0)
}

type MockEmbeddingIndex struct {
	mock.Mock
}

func (m *MockEmbeddingIndex) EnsureCollection(ctx context.Context, dim int) error {
	return m.Called(ctx, dim).Error(0)
}

func (m *MockEmbeddingIndex) Upsert(ctx context.Context, result *run.Result) error {
	return m.Called(ctx, result).Error(0)
}

type MockRecommendationGraph struct {
	mock.Mock
	neo4j.RecommendationGraph
}

func (m *MockRecommendationGraph) SaveRun(ctx context.Context, result *run.Result) (int64, error) {
	args := m.Called(ctx, result)
	return args.Get(0).(int64), args.Error(1)
}

func sampleResult() *run.Result {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &run.Result{
		RunID:          "run-7",
		StartedAt:      started,
		FinishedAt:     started.Add(3 * time.Second),
		CohortSize:     1,
		DrugCount:      4,
		TopK:           1,
		EmbeddingWidth: 2,
		Patients: []run.PatientResult{
			{SampleID: "TCGA-AA-0002-01", Risk: 0.4, Embedding: []float64{1, 2}, Compounds: []string{"taxol"}, Scores: []float64{0.9}},
		},
		Artifacts: []string{"/out/results.csv", "/out/manifest.json"},
	}
}

func TestObjectStoreSink_RecordsKeys(t *testing.T) {
	store := new(MockArtifactStore)
	res := sampleResult()
	keys := []string{"runs/run-7/results.csv", "runs/run-7/manifest.json"}
	store.On("UploadRun", mock.Anything, "run-7", res.Artifacts).Return(keys, nil)

	require.NoError(t, (&ObjectStoreSink{Store: store}).Publish(context.Background(), res))
	assert.Equal(t, keys, res.ObjectKeys)
	store.AssertExpectations(t)
}

func TestEmbeddingIndexSink(t *testing.T) {
	t.Run("ensures collection before upsert", func(t *testing.T) {
		idx := new(MockEmbeddingIndex)
		res := sampleResult()
		idx.On("EnsureCollection", mock.Anything, 2).Return(nil).Once()
		idx.On("Upsert", mock.Anything, res).Return(nil).Once()

		require.NoError(t, (&EmbeddingIndexSink{Index: idx}).Publish(context.Background(), res))
		idx.AssertExpectations(t)
	})

	t.Run("collection failure skips upsert", func(t *testing.T) {
		idx := new(MockEmbeddingIndex)
		idx.On("EnsureCollection", mock.Anything, 2).Return(errors.New(errors.CodeSearchError, "down"))

		err := (&EmbeddingIndexSink{Index: idx}).Publish(context.Background(), sampleResult())
		assert.True(t, errors.IsCode(err, errors.CodeSearchError))
		idx.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})

	t.Run("no embeddings", func(t *testing.T) {
		idx := new(MockEmbeddingIndex)
		res := sampleResult()
		res.EmbeddingWidth = 0

		err := (&EmbeddingIndexSink{Index: idx}).Publish(context.Background(), res)
		assert.True(t, errors.IsCode(err, errors.CodeSearchError))
		idx.AssertNotCalled(t, "EnsureCollection", mock.Anything, mock.Anything)
	})
}

func TestGraphSink(t *testing.T) {
	g := new(MockRecommendationGraph)
	res := sampleResult()
	g.On("SaveRun", mock.Anything, res).Return(int64(1), nil)

	require.NoError(t, (&GraphSink{Graph: g}).Publish(context.Background(), res))
	g.AssertExpectations(t)
}

func TestEventSink(t *testing.T) {
	pub := &fakePublisher{}
	at := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	s := &EventSink{Publisher: pub, Now: func() time.Time { return at }}
	ctx := ContextWithRequestID(context.Background(), "req-3")

	res := sampleResult()
	res.ObjectKeys = []string{"runs/run-7/results.csv"}
	require.NoError(t, s.Publish(ctx, res))
	require.NoError(t, s.NotifyFailure(ctx, "run-8", errors.New(errors.CodeEmptyTable, "table is empty")))

	require.Len(t, pub.events, 2)
	done := pub.events[0]
	assert.Equal(t, run.EventCompleted, done.Type)
	assert.Equal(t, run.StatusSucceeded, done.Status)
	assert.Equal(t, "req-3", done.RequestID)
	assert.Equal(t, res.ObjectKeys, done.Artifacts)
	assert.Equal(t, res.FinishedAt, done.Timestamp)

	failed := pub.events[1]
	assert.Equal(t, run.EventFailed, failed.Type)
	assert.Equal(t, "run-8", failed.RunID)
	assert.Equal(t, errors.CodeEmptyTable.String(), failed.ErrorCode)
	assert.Equal(t, at, failed.Timestamp)
}

func TestPublish_CountsSinkFailures(t *testing.T) {
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "oncofuse"}, nil)
	require.NoError(t, err)

	var calls []string
	r, err := NewRunner(testConfig(t), nil,
		WithMetrics(prometheus.NewPipelineMetrics(collector)),
		WithSinks(
			&recordingSink{name: SinkMilvus, err: errors.New(errors.CodeSearchError, "down"), calls: &calls},
			&recordingSink{name: SinkPostgres, err: errors.New(errors.CodeDatabaseError, "down"), calls: &calls},
			&recordingSink{name: SinkKafka, calls: &calls},
		))
	require.NoError(t, err)

	log := testutil.NewMockLogger()
	pubErr := r.publish(context.Background(), sampleResult(), log)
	require.Error(t, pubErr)
	assert.True(t, errors.IsCode(pubErr, errors.CodeSearchError))
	assert.True(t, errors.IsCode(pubErr, errors.CodeDatabaseError))
	assert.Contains(t, pubErr.Error(), "sink milvus")
	assert.Equal(t, []string{SinkPostgres, SinkMilvus, SinkKafka}, calls)

	expected := `
# HELP oncofuse_pipeline_sink_failures_total Result sink publish failures
# TYPE oncofuse_pipeline_sink_failures_total counter
oncofuse_pipeline_sink_failures_total{sink="milvus"} 1
oncofuse_pipeline_sink_failures_total{sink="postgres"} 1
`
	assert.NoError(t, promtestutil.GatherAndCompare(collector.Gatherer(), strings.NewReader(expected),
		"oncofuse_pipeline_sink_failures_total"))
}

func TestRun_TimesEachStage(t *testing.T) {
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "oncofuse"}, nil)
	require.NoError(t, err)
	var calls []string
	r, err := NewRunner(testConfig(t), nil,
		WithMetrics(prometheus.NewPipelineMetrics(collector)),
		WithSinks(&recordingSink{name: SinkRedis, calls: &calls}))
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)

	families, err := collector.Gatherer().Gather()
	require.NoError(t, err)
	counts := map[string]uint64{}
	for _, mf := range families {
		if mf.GetName() != "oncofuse_pipeline_stage_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "stage" {
					counts[l.GetValue()] = m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	// Drugs and omics are separate loads; predictions, recommendations and
	// the manifest are separate writes.
	assert.Equal(t, map[string]uint64{
		stageLoad:      2,
		stageAlign:     1,
		stageInfer:     1,
		stageRecommend: 1,
		stageWrite:     3,
		stagePublish:   1,
	}, counts)
}

func TestPublish_NoSinks(t *testing.T) {
	r, err := NewRunner(testConfig(t), nil)
	require.NoError(t, err)
	assert.NoError(t, r.publish(context.Background(), sampleResult(), testutil.NewMockLogger()))
}
