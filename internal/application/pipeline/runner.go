// Package pipeline orchestrates one oncofuse run: load the omics tables,
// align them, run the fusion model, rank compounds, write the flat-file
// outputs and hand the result to the configured sinks.
package pipeline

import (
	"context"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/internal/application/recommendation"
	"github.com/RuoyuGao1/cancer-system/internal/application/survival"
	"github.com/RuoyuGao1/cancer-system/internal/config"
	"github.com/RuoyuGao1/cancer-system/internal/domain/compound"
	"github.com/RuoyuGao1/cancer-system/internal/domain/omics"
	"github.com/RuoyuGao1/cancer-system/internal/domain/patient"
	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/prometheus"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// Mode selects which stages a run executes.
type Mode string

const (
	// ModeFull predicts and recommends in one process.
	ModeFull Mode = "run"
	// ModePredict aligns and scores, writing results and embeddings.
	ModePredict Mode = "predict"
	// ModeRecommend ranks compounds for a previously written embeddings file.
	ModeRecommend Mode = "recommend"
)

const (
	stageLoad      = prometheus.StageLoad
	stageAlign     = prometheus.StageAlign
	stageInfer     = prometheus.StageInfer
	stageRecommend = prometheus.StageRecommend
	stageWrite     = prometheus.StageWrite
	stagePublish   = prometheus.StagePublish
)

// Runner executes pipeline runs. A Runner keeps no state between runs; the
// configuration is read at the start of each call.
type Runner struct {
	cfg         *config.Config
	aligner     *omics.Aligner
	recommender recommendation.Service
	survival    *survival.Service
	fetcher     WeightsFetcher
	sinks       []Sink
	metrics     *prometheus.PipelineMetrics
	pusher      prometheus.MetricsCollector
	logger      logging.Logger
	now         func() time.Time
	newID       func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithSinks sets the result sinks. They are reordered into the fixed
// publish order.
func WithSinks(sinks ...Sink) Option {
	return func(r *Runner) { r.sinks = sortSinks(sinks) }
}

// WithWeightsFetcher enables model.weights_object.
func WithWeightsFetcher(f WeightsFetcher) Option {
	return func(r *Runner) { r.fetcher = f }
}

// WithMetrics records run metrics.
func WithMetrics(m *prometheus.PipelineMetrics) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithPushgateway pushes the collector after every run when
// metrics.pushgateway_url is set.
func WithPushgateway(c prometheus.MetricsCollector) Option {
	return func(r *Runner) { r.pusher = c }
}

// WithRecommender replaces the PCA recommender.
func WithRecommender(s recommendation.Service) Option {
	return func(r *Runner) { r.recommender = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithIDGenerator replaces the UUID run ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Runner) { r.newID = gen }
}

// NewRunner creates a Runner for cfg, which must already be validated.
func NewRunner(cfg *config.Config, logger logging.Logger, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeConfigInvalid, "config is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	r := &Runner{
		cfg:      cfg,
		aligner:  omics.NewAligner(logger),
		survival: survival.NewService(logger),
		metrics:  prometheus.NewPipelineMetrics(prometheus.NewNoopCollector()),
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.recommender == nil {
		r.recommender = recommendation.NewService(nil, logger)
	}
	return r, nil
}

// Run executes the full pipeline.
func (r *Runner) Run(ctx context.Context) (*run.Result, error) {
	return r.execute(ctx, ModeFull)
}

// Predict runs alignment and inference only.
func (r *Runner) Predict(ctx context.Context) (*run.Result, error) {
	return r.execute(ctx, ModePredict)
}

// Recommend ranks compounds for the embeddings file in the output directory.
func (r *Runner) Recommend(ctx context.Context) (*run.Result, error) {
	return r.execute(ctx, ModeRecommend)
}

// Execute runs the stages of mode.
func (r *Runner) Execute(ctx context.Context, mode Mode) (*run.Result, error) {
	return r.execute(ctx, mode)
}

func (r *Runner) execute(ctx context.Context, mode Mode) (*run.Result, error) {
	res := &run.Result{RunID: r.newID(), StartedAt: r.now().UTC()}
	log := r.logger.With(logging.String("run_id", res.RunID), logging.String("mode", string(mode)))
	log.Info("Run started")

	out := newOutputBatch(res.RunID)
	src, err := r.stages(ctx, mode, res, out, log)
	res.FinishedAt = r.now().UTC()
	if err == nil {
		err = r.finalize(mode, res, src, out)
	}
	if err != nil {
		out.Discard()
		log.Error("Run failed", logging.Err(err), logging.String("error_code", errors.GetCode(err).String()))
		r.metrics.RecordRun(err)
		r.notifyFailure(ctx, res.RunID, err, log)
		r.push(ctx, log)
		return nil, err
	}

	pubErr := r.publish(ctx, res, log)
	r.metrics.RecordRun(pubErr)
	r.push(ctx, log)

	log.Info("Run finished",
		logging.Int("cohort_size", res.CohortSize),
		logging.Int("drugs", res.DrugCount),
		logging.Strings("artifacts", res.Artifacts),
		logging.Duration("elapsed", res.Duration()))
	return res, pubErr
}

// finalize stages the manifest and moves every output to its final path.
func (r *Runner) finalize(mode Mode, res *run.Result, src string, out *outputBatch) error {
	manifestPath := r.outputPath(r.cfg.Outputs.Manifest)
	m := NewManifest(mode, res, r.cfg, src)
	res.Artifacts = append(res.Artifacts, manifestPath)
	return r.stage(stageWrite, func() error {
		if err := WriteManifest(out.Stage(manifestPath), m); err != nil {
			return err
		}
		return out.Commit()
	})
}

// stages runs the compute stages and stages the flat files in out. It
// returns the weights source for the manifest. When the run recommends, the
// drug table and top_k are checked before any omics table is read.
func (r *Runner) stages(ctx context.Context, mode Mode, res *run.Result, out *outputBatch, log logging.Logger) (string, error) {
	var (
		set    *patient.EmbeddingSet
		drugs  *compound.FingerprintTable
		source string
		err    error
	)

	switch mode {
	case ModeFull, ModePredict, ModeRecommend:
	default:
		return "", errors.Newf(errors.CodeInvalidParam, "unknown run mode %q", mode)
	}

	if mode != ModePredict {
		if drugs, err = r.loadDrugs(res); err != nil {
			return "", err
		}
	}

	switch mode {
	case ModeFull, ModePredict:
		if set, source, err = r.predict(ctx, res, out, log); err != nil {
			return "", err
		}
	case ModeRecommend:
		if set, source, err = r.loadPredictions(ctx, res, log); err != nil {
			return "", err
		}
	}

	if mode == ModePredict {
		return source, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return source, r.recommend(ctx, set, drugs, res, out, log)
}

// loadDrugs reads the drug table and checks top_k against it.
func (r *Runner) loadDrugs(res *run.Result) (*compound.FingerprintTable, error) {
	var drugs *compound.FingerprintTable
	if err := r.stage(stageLoad, func() error {
		var err error
		drugs, err = loadDrugs(r.cfg.Inputs.Drugs, r.cfg.Inputs.DrugIDColumn)
		return err
	}); err != nil {
		return nil, err
	}
	res.DrugCount = drugs.Len()
	r.metrics.RecordDrugs(drugs.Len())
	if err := recommendation.ValidateTopK(r.cfg.Recommendation.TopK, drugs.Len()); err != nil {
		return nil, err
	}
	return drugs, nil
}

func (r *Runner) recommend(ctx context.Context, set *patient.EmbeddingSet, drugs *compound.FingerprintTable, res *run.Result, out *outputBatch, log logging.Logger) error {
	var ranked *recommendation.RecommendResult
	if err := r.stage(stageRecommend, func() error {
		var err error
		ranked, err = r.recommender.Recommend(ctx, &recommendation.RecommendInput{
			Patients: set,
			Drugs:    drugs,
			TopK:     r.cfg.Recommendation.TopK,
		})
		return err
	}); err != nil {
		return err
	}
	res.TopK = r.cfg.Recommendation.TopK

	byID := make(map[string]int, len(res.Patients))
	for i, p := range res.Patients {
		byID[p.SampleID] = i
	}
	for _, rec := range ranked.Recommendations {
		if i, ok := byID[rec.SampleID]; ok {
			res.Patients[i].Compounds = rec.Compounds
			res.Patients[i].Scores = rec.Scores
		}
	}

	path := r.outputPath(r.cfg.Outputs.Recommendations)
	if err := r.stage(stageWrite, func() error {
		return writeRecommendations(out.Stage(path), ranked.Recommendations, res.TopK)
	}); err != nil {
		return err
	}
	res.Artifacts = append(res.Artifacts, path)
	log.Info("Recommendations ranked", logging.String("path", path), logging.Int("patients", len(ranked.Recommendations)))
	return nil
}

// loadPredictions reads the embeddings written by an earlier predict run.
// Risk scores are attached from the results file when it exists; without
// it they are NaN. The predict run's manifest, when present, names the
// source run and weights.
func (r *Runner) loadPredictions(ctx context.Context, res *run.Result, log logging.Logger) (*patient.EmbeddingSet, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	var set *patient.EmbeddingSet
	err := r.stage(stageLoad, func() error {
		var err error
		set, err = loadEmbeddings(r.outputPath(r.cfg.Outputs.Embeddings))
		return err
	})
	if err != nil {
		return nil, "", err
	}

	var source string
	prev, err := ReadManifestIfPresent(r.outputPath(r.cfg.Outputs.Manifest))
	if err != nil {
		return nil, "", err
	}
	if prev != nil {
		res.SourceRunID = prev.RunID
		source = prev.Settings.Weights
		log.Info("Ranking embeddings of an earlier run",
			logging.String("source_run_id", prev.RunID),
			logging.String("weights", source))
	}

	risk := map[string]float64{}
	resultsPath := r.outputPath(r.cfg.Outputs.Results)
	if scores, err := loadResultsIfPresent(resultsPath); err != nil {
		return nil, "", err
	} else if scores == nil {
		log.Warn("No results file next to embeddings, risk scores left empty", logging.String("path", resultsPath))
	} else {
		for _, s := range scores {
			risk[s.SampleID] = s.Risk
		}
	}

	res.CohortSize = set.Len()
	res.EmbeddingWidth = set.Width()
	res.Patients = make([]run.PatientResult, set.Len())
	for i, id := range set.SampleIDs {
		v, ok := risk[id]
		if !ok {
			v = math.NaN()
		}
		res.Patients[i] = run.PatientResult{SampleID: id, Risk: v, Embedding: mat.Row(nil, i, set.Vectors)}
	}
	return set, source, nil
}

// stage times fn under the given stage label.
func (r *Runner) stage(name string, fn func() error) error {
	timer := r.metrics.StartStage(name)
	err := fn()
	timer.ObserveDuration()
	return err
}

func (r *Runner) outputPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.cfg.Outputs.Dir, name)
}

func (r *Runner) push(ctx context.Context, log logging.Logger) {
	url := r.cfg.Metrics.PushgatewayURL
	if r.pusher == nil || url == "" {
		return
	}
	if err := r.pusher.Push(ctx, url, r.cfg.Metrics.Job, nil); err != nil {
		log.Warn("Metrics push failed", logging.String("url", url), logging.Err(err))
	}
}
