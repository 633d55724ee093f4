package pipeline

import (
	"context"
	stderrors "errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/RuoyuGao1/cancer-system/internal/application/recommendation"
	"github.com/RuoyuGao1/cancer-system/internal/config"
	"github.com/RuoyuGao1/cancer-system/internal/domain/omics"
	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/internal/intelligence/multiomics"
	"github.com/RuoyuGao1/cancer-system/internal/testutil"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

const (
	expressionCSV = `sample_id,g1,g2
tcga-aa-0001-01a,1.0,2.0
TCGA-AA-0002-01A,0.5,NA
TCGA-AA-0003-01A,3,1
`
	mutationCSV = `sample_id,TP53,KRAS
TCGA-AA-0002-01B,1,0
TCGA-AA-0003-01A,0,1
TCGA-AA-0004-01A,1,1
`
	methylationCSV = `sample_id,cg1,cg2,cg3
TCGA-AA-0001-01A,0.1,0.2,0.3
TCGA-AA-0002-01A,0.4,,0.6
TCGA-AA-0003-01A,0.7,0.8,0.9
`
	drugsCSV = `name,b1,b2,b3
cisplatin,1,0,1
taxol,0,1,1
imatinib,1,1,0
gefitinib,0,0,1
`
	clinicalCSV = `sample_id,OS_time,OS_status
TCGA-AA-0002-01A,120,1
TCGA-AA-0003-01A,300,0
TCGA-AA-0009-01A,50,1
`
)

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Model.HiddenWidth = 4
	cfg.Model.EmbeddingWidth = 2
	cfg.Model.FusionWidths = []int{3}
	cfg.Alignment.MethylationFeatureCap = 2
	cfg.Recommendation.TopK = 2
	cfg.Outputs.Dir = filepath.Join(dir, "out")
	cfg.Inputs.Expression = writeInput(t, dir, "expression.csv", expressionCSV)
	cfg.Inputs.Mutation = writeInput(t, dir, "mutation.csv", mutationCSV)
	cfg.Inputs.Methylation = writeInput(t, dir, "methylation.csv", methylationCSV)
	cfg.Inputs.Drugs = writeInput(t, dir, "drugs.csv", drugsCSV)
	cfg.Inputs.Clinical = writeInput(t, dir, "clinical.csv", clinicalCSV)
	require.NoError(t, cfg.Validate())
	return cfg
}

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type recordingSink struct {
	name  string
	err   error
	calls *[]string
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, _ *run.Result) error {
	*s.calls = append(*s.calls, s.name)
	return s.err
}

type fakePublisher struct {
	events []run.Event
}

func (p *fakePublisher) PublishRunEvent(_ context.Context, ev run.Event) error {
	p.events = append(p.events, ev)
	return nil
}

type failingRecommender struct{}

func (failingRecommender) Recommend(context.Context, *recommendation.RecommendInput) (*recommendation.RecommendResult, error) {
	return nil, errors.New(errors.CodeReducedSpaceInvalid, "reduced width unavailable")
}

type fakeFetcher struct {
	weights *multiomics.Weights
	objects []string
}

func (f *fakeFetcher) FetchWeights(_ context.Context, object, dst string) error {
	f.objects = append(f.objects, object)
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	return f.weights.Save(out)
}

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t0 = t0.Add(time.Second)
		return t0
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// ─────────────────────────────────────────────────────────────────────────────
// Suite
// ─────────────────────────────────────────────────────────────────────────────

type RunnerTestSuite struct {
	suite.Suite
	cfg    *config.Config
	logger *testutil.MockLogger
	calls  []string
	events *fakePublisher
}

func TestRunnerTestSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

func (s *RunnerTestSuite) SetupTest() {
	s.cfg = testConfig(s.T())
	s.logger = testutil.NewMockLogger()
	s.calls = nil
	s.events = &fakePublisher{}
}

func (s *RunnerTestSuite) runner(opts ...Option) *Runner {
	base := []Option{WithClock(fixedClock()), WithIDGenerator(func() string { return "run-1" })}
	r, err := NewRunner(s.cfg, s.logger, append(base, opts...)...)
	s.Require().NoError(err)
	return r
}

func (s *RunnerTestSuite) sink(name string, err error) Sink {
	return &recordingSink{name: name, err: err, calls: &s.calls}
}

func (s *RunnerTestSuite) TestRunWritesOutputsAndPublishesInOrder() {
	r := s.runner(WithSinks(
		s.sink(SinkKafka, nil),
		s.sink(SinkNeo4j, nil),
		s.sink(SinkRedis, nil),
		s.sink(SinkMinIO, nil),
		s.sink(SinkMilvus, nil),
		s.sink(SinkPostgres, nil),
	))

	res, err := r.Run(context.Background())
	s.Require().NoError(err)

	s.Equal([]string{SinkMinIO, SinkPostgres, SinkRedis, SinkMilvus, SinkNeo4j, SinkKafka}, s.calls)
	s.Equal("run-1", res.RunID)
	s.Equal(2, res.CohortSize)
	s.Equal(4, res.DrugCount)
	s.Equal(2, res.TopK)
	s.Equal(2, res.EmbeddingWidth)
	s.Require().Len(res.Patients, 2)
	s.Equal("TCGA-AA-0002-01", res.Patients[0].SampleID)
	s.Equal("TCGA-AA-0003-01", res.Patients[1].SampleID)
	for _, p := range res.Patients {
		s.Len(p.Embedding, 2)
		s.Len(p.Compounds, 2)
		s.Len(p.Scores, 2)
		s.GreaterOrEqual(p.Scores[0], p.Scores[1])
	}

	out := s.cfg.Outputs.Dir
	s.Equal([]string{
		filepath.Join(out, "results.csv"),
		filepath.Join(out, "patient_embeddings.csv"),
		filepath.Join(out, "recommendations.csv"),
		filepath.Join(out, "manifest.json"),
	}, res.Artifacts)
	for _, a := range res.Artifacts {
		s.FileExists(a)
	}

	s.Contains(readFile(s.T(), res.Artifacts[0]), "sample_id,predicted_risk\nTCGA-AA-0002-01,")
	s.Contains(readFile(s.T(), res.Artifacts[1]), "sample_id,0,1\n")
	s.Contains(readFile(s.T(), res.Artifacts[2]), "sample_id,rank_1,rank_2\n")

	m, err := ReadManifest(res.Artifacts[3])
	s.Require().NoError(err)
	s.Equal("run-1", m.RunID)
	s.Equal(ModeFull, m.Mode)
	s.Equal("seed:42", m.Settings.Weights)
	s.Equal(2, m.Settings.MethylationFeatureCap)
	s.Require().Len(m.Modalities, 3)
	s.Equal(run.ModalityStats{Modality: "methylation", Width: 2, Imputed: 1}, m.Modalities[0])
	s.Equal(run.ModalityStats{Modality: "expression", Width: 2, Imputed: 1}, m.Modalities[1])
	s.Equal(3, len(m.Outputs))
	s.True(s.logger.HasMessage("info", "Run finished"))
}

func (s *RunnerTestSuite) TestRunIsDeterministic() {
	first, err := s.runner().Run(context.Background())
	s.Require().NoError(err)
	results := readFile(s.T(), first.Artifacts[0])
	embeddings := readFile(s.T(), first.Artifacts[1])
	recs := readFile(s.T(), first.Artifacts[2])

	second, err := s.runner().Run(context.Background())
	s.Require().NoError(err)
	s.Equal(results, readFile(s.T(), second.Artifacts[0]))
	s.Equal(embeddings, readFile(s.T(), second.Artifacts[1]))
	s.Equal(recs, readFile(s.T(), second.Artifacts[2]))
	s.Equal(first.Patients, second.Patients)
}

func (s *RunnerTestSuite) TestTopKExceedingDrugsFailsAndNotifies() {
	s.cfg.Recommendation.TopK = 5
	r := s.runner(WithSinks(&EventSink{Publisher: s.events}))

	ctx := ContextWithRequestID(context.Background(), "req-9")
	res, err := r.Run(ctx)
	s.Nil(res)
	s.True(errors.IsCode(err, errors.CodeTopKExceedsDrugs))
	for _, name := range []string{"results.csv", "patient_embeddings.csv", "recommendations.csv", "manifest.json"} {
		s.NoFileExists(filepath.Join(s.cfg.Outputs.Dir, name))
	}

	s.Require().Len(s.events.events, 1)
	ev := s.events.events[0]
	s.Equal(run.EventFailed, ev.Type)
	s.Equal("run-1", ev.RunID)
	s.Equal("req-9", ev.RequestID)
	s.Equal(errors.CodeTopKExceedsDrugs.String(), ev.ErrorCode)
}

func (s *RunnerTestSuite) TestTopKCheckedBeforeOmicsAreRead() {
	s.cfg.Recommendation.TopK = 5
	s.cfg.Inputs.Methylation = filepath.Join(s.T().TempDir(), "absent.csv")

	_, err := s.runner().Run(context.Background())
	s.True(errors.IsCode(err, errors.CodeTopKExceedsDrugs))
}

func (s *RunnerTestSuite) TestFailedRunKeepsPreviousOutputs() {
	first, err := s.runner().Run(context.Background())
	s.Require().NoError(err)
	before := map[string]string{}
	for _, a := range first.Artifacts {
		before[a] = readFile(s.T(), a)
	}

	s.cfg.Model.Seed = 7
	r := s.runner(WithRecommender(failingRecommender{}))
	_, err = r.Run(context.Background())
	s.True(errors.IsCode(err, errors.CodeReducedSpaceInvalid))

	for path, content := range before {
		s.Equal(content, readFile(s.T(), path), path)
	}
	entries, err := os.ReadDir(s.cfg.Outputs.Dir)
	s.Require().NoError(err)
	for _, e := range entries {
		s.False(strings.HasPrefix(e.Name(), ".tmp-"), e.Name())
	}
}

func (s *RunnerTestSuite) TestFailedFirstRunWritesNothing() {
	_, err := s.runner(WithRecommender(failingRecommender{})).Run(context.Background())
	s.Require().Error(err)

	entries, err := os.ReadDir(s.cfg.Outputs.Dir)
	if err == nil {
		s.Empty(entries)
	} else {
		s.True(os.IsNotExist(err))
	}
}

func (s *RunnerTestSuite) TestNoCommonSamples() {
	dir := s.T().TempDir()
	s.cfg.Inputs.Mutation = writeInput(s.T(), dir, "mutation.csv", "sample_id,TP53\nTCGA-ZZ-9999-01A,1\n")

	_, err := s.runner().Run(context.Background())
	s.True(errors.IsCode(err, errors.CodeNoCommonSamples))
}

func (s *RunnerTestSuite) TestMissingInputPath() {
	s.cfg.Inputs.Methylation = ""
	_, err := s.runner().Predict(context.Background())
	s.True(errors.IsCode(err, errors.CodeInputUnreadable))
}

func (s *RunnerTestSuite) TestSinkFailureDoesNotStopLaterSinks() {
	r := s.runner(WithSinks(
		s.sink(SinkRedis, errors.New(errors.CodeCacheError, "redis down")),
		s.sink(SinkPostgres, nil),
		&EventSink{Publisher: s.events},
	))

	res, err := r.Run(ContextWithRequestID(context.Background(), "req-1"))
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.CodeCacheError))
	s.Require().NotNil(res)
	s.Equal([]string{SinkPostgres, SinkRedis}, s.calls)

	s.Require().Len(s.events.events, 1)
	s.Equal(run.EventCompleted, s.events.events[0].Type)
	s.Equal("req-1", s.events.events[0].RequestID)
	s.True(s.logger.HasMessage("error", "Sink publish failed"))
}

func (s *RunnerTestSuite) TestUnknownSinkErrorGetsInternalCode() {
	r := s.runner(WithSinks(s.sink(SinkNeo4j, stderrors.New("boom"))))
	_, err := r.Run(context.Background())
	s.True(errors.IsCode(err, errors.CodeInternal))
}

func (s *RunnerTestSuite) TestPredictThenRecommend() {
	pred, err := s.runner().Predict(context.Background())
	s.Require().NoError(err)
	s.False(pred.HasRecommendations())
	s.Zero(pred.DrugCount)
	s.NoFileExists(filepath.Join(s.cfg.Outputs.Dir, "recommendations.csv"))

	r, err := NewRunner(s.cfg, s.logger, WithClock(fixedClock()), WithIDGenerator(func() string { return "run-2" }))
	s.Require().NoError(err)
	rec, err := r.Recommend(context.Background())
	s.Require().NoError(err)
	s.True(rec.HasRecommendations())
	s.Equal(4, rec.DrugCount)
	s.Equal("run-1", rec.SourceRunID)
	s.True(s.logger.HasMessage("info", "Ranking embeddings of an earlier run"))

	m, err := ReadManifest(filepath.Join(s.cfg.Outputs.Dir, "manifest.json"))
	s.Require().NoError(err)
	s.Equal("run-2", m.RunID)
	s.Equal("run-1", m.SourceRunID)
	s.Equal(ModeRecommend, m.Mode)
	s.Equal("seed:42", m.Settings.Weights)
	s.Require().Len(rec.Patients, 2)
	for i, p := range rec.Patients {
		s.Equal(pred.Patients[i].SampleID, p.SampleID)
		s.InDelta(pred.Patients[i].Risk, p.Risk, 1e-9)
		s.InDeltaSlice(pred.Patients[i].Embedding, p.Embedding, 1e-9)
	}

	full, err := s.runner().Run(context.Background())
	s.Require().NoError(err)
	for i := range full.Patients {
		s.Equal(full.Patients[i].Compounds, rec.Patients[i].Compounds)
	}
}

func (s *RunnerTestSuite) TestRecommendWithoutResultsLeavesRiskEmpty() {
	_, err := s.runner().Predict(context.Background())
	s.Require().NoError(err)
	s.Require().NoError(os.Remove(filepath.Join(s.cfg.Outputs.Dir, "results.csv")))

	rec, err := s.runner().Recommend(context.Background())
	s.Require().NoError(err)
	for _, p := range rec.Patients {
		s.True(math.IsNaN(p.Risk))
	}
	s.True(s.logger.HasMessage("warn", "No results file next to embeddings, risk scores left empty"))
}

func (s *RunnerTestSuite) TestWeightsFromObjectStore() {
	s.cfg.Model.Seed = 7
	seeded, err := s.runner().Predict(context.Background())
	s.Require().NoError(err)

	modelCfg := multiomics.NewModelConfig([omics.NumModalities]int{2, 2, 2}, 4, []int{3}, 2)
	w, err := multiomics.InitWeights(modelCfg, 7)
	s.Require().NoError(err)
	fetcher := &fakeFetcher{weights: w}

	s.cfg.Model.Seed = 42
	s.cfg.Model.WeightsObject = "models/v1.json"
	fetched, err := s.runner(WithWeightsFetcher(fetcher)).Predict(context.Background())
	s.Require().NoError(err)

	s.Equal([]string{"models/v1.json"}, fetcher.objects)
	s.Equal(seeded.Patients, fetched.Patients)
}

func (s *RunnerTestSuite) TestWeightsObjectWithoutObjectStore() {
	s.cfg.Model.WeightsObject = "models/v1.json"
	_, err := s.runner().Predict(context.Background())
	s.True(errors.IsCode(err, errors.CodeModelWeights))
}

func (s *RunnerTestSuite) TestWeightsFileShapeMismatch() {
	modelCfg := multiomics.NewModelConfig([omics.NumModalities]int{5, 2, 2}, 4, []int{3}, 2)
	w, err := multiomics.InitWeights(modelCfg, 1)
	s.Require().NoError(err)
	path := filepath.Join(s.T().TempDir(), "weights.json")
	f, err := os.Create(path)
	s.Require().NoError(err)
	s.Require().NoError(w.Save(f))
	s.Require().NoError(f.Close())

	s.cfg.Model.WeightsPath = path
	_, err = s.runner().Predict(context.Background())
	s.True(errors.IsCode(err, errors.CodeModelWeights))
}

func (s *RunnerTestSuite) TestCoxInput() {
	_, err := s.runner().Predict(context.Background())
	s.Require().NoError(err)

	out, err := s.runner().CoxInput(context.Background())
	s.Require().NoError(err)
	s.Require().Len(out.Records, 2)
	s.Equal("TCGA-AA-0002-01", out.Records[0].SampleID)
	s.Equal(120.0, out.Records[0].Duration)
	s.Equal(1.0, out.Records[0].Event)
	high, low := out.GroupCounts()
	s.Equal(2, high+low)
	s.Equal(1, high)

	s.Contains(readFile(s.T(), out.CoxPath), "sample_id,predicted_risk,duration,event\n")
	s.Contains(readFile(s.T(), out.GroupsPath), "sample_id,predicted_risk,risk_group\n")
}

func (s *RunnerTestSuite) TestCoxInputRequiresClinical() {
	s.cfg.Inputs.Clinical = ""
	_, err := s.runner().CoxInput(context.Background())
	s.True(errors.IsCode(err, errors.CodeInputUnreadable))
}

func (s *RunnerTestSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.runner().Run(ctx)
	s.ErrorIs(err, context.Canceled)
}

func TestSortSinks(t *testing.T) {
	var calls []string
	mk := func(n string) Sink { return &recordingSink{name: n, calls: &calls} }
	sorted := sortSinks([]Sink{mk("custom"), mk(SinkKafka), nil, mk(SinkMinIO)})
	names := make([]string, len(sorted))
	for i, s := range sorted {
		names[i] = s.Name()
	}
	assert.Equal(t, []string{SinkMinIO, SinkKafka, "custom"}, names)
}

func TestNewRunner_RequiresConfig(t *testing.T) {
	_, err := NewRunner(nil, nil)
	assert.True(t, errors.IsCode(err, errors.CodeConfigInvalid))
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Equal(t, "abc", RequestIDFromContext(ContextWithRequestID(context.Background(), "abc")))
}
