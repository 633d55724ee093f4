package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/internal/domain/compound"
	"github.com/RuoyuGao1/cancer-system/internal/domain/omics"
	"github.com/RuoyuGao1/cancer-system/internal/domain/patient"
	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/storage/tabular"
	"github.com/RuoyuGao1/cancer-system/internal/intelligence/multiomics"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// WeightsFetcher downloads a weights object to a local file.
type WeightsFetcher interface {
	FetchWeights(ctx context.Context, object, dst string) error
}

// ─────────────────────────────────────────────────────────────────────────────
// Predict
// ─────────────────────────────────────────────────────────────────────────────

func (r *Runner) predict(ctx context.Context, res *run.Result, out *outputBatch, log logging.Logger) (*patient.EmbeddingSet, string, error) {
	var tables map[omics.Modality]*omics.RawTable
	if err := r.stage(stageLoad, func() error {
		var err error
		tables, err = r.loadOmics()
		return err
	}); err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	var cohort *omics.Cohort
	if err := r.stage(stageAlign, func() error {
		var err error
		cohort, err = r.aligner.Align(tables)
		return err
	}); err != nil {
		return nil, "", err
	}
	imputed := make(map[string]int, omics.NumModalities)
	for _, m := range omics.Modalities {
		p := cohort.Profile(m)
		imputed[m.String()] = p.Imputed
		res.Modalities = append(res.Modalities, run.ModalityStats{Modality: m.String(), Width: p.Width(), Imputed: p.Imputed})
	}
	res.CohortSize = cohort.Size()
	r.metrics.RecordCohort(cohort.Size(), imputed)
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	mc := r.cfg.Model
	modelCfg := multiomics.NewModelConfig(cohort.Widths(), mc.HiddenWidth, mc.FusionWidths, mc.EmbeddingWidth)
	var (
		pred   *multiomics.Prediction
		source string
	)
	if err := r.stage(stageInfer, func() error {
		weights, src, err := r.loadWeights(ctx, modelCfg)
		if err != nil {
			return err
		}
		source = src
		model, err := multiomics.NewModel(modelCfg, weights, log)
		if err != nil {
			return err
		}
		pred, err = model.Predict(cohort)
		return err
	}); err != nil {
		return nil, "", err
	}

	res.EmbeddingWidth = pred.EmbeddingWidth()
	res.Patients = make([]run.PatientResult, len(pred.SampleIDs))
	scores := make([]patient.RiskScore, len(pred.SampleIDs))
	for i, id := range pred.SampleIDs {
		scores[i] = patient.RiskScore{SampleID: id, Risk: pred.Risk[i]}
		res.Patients[i] = run.PatientResult{SampleID: id, Risk: pred.Risk[i], Embedding: mat.Row(nil, i, pred.Embeddings)}
	}

	set, err := patient.NewEmbeddingSet(pred.SampleIDs, pred.Embeddings)
	if err != nil {
		return nil, "", err
	}
	resultsPath := r.outputPath(r.cfg.Outputs.Results)
	embeddingsPath := r.outputPath(r.cfg.Outputs.Embeddings)
	if err := r.stage(stageWrite, func() error {
		if err := tabular.WriteFile(out.Stage(resultsPath), func(w *csv.Writer) error {
			return tabular.WriteResults(w, scores)
		}); err != nil {
			return err
		}
		return tabular.WriteFile(out.Stage(embeddingsPath), func(w *csv.Writer) error {
			return tabular.WriteEmbeddings(w, set)
		})
	}); err != nil {
		return nil, "", err
	}
	res.Artifacts = append(res.Artifacts, resultsPath, embeddingsPath)
	log.Info("Predictions staged",
		logging.String("results", resultsPath),
		logging.String("embeddings", embeddingsPath),
		logging.String("weights", source))
	return set, source, nil
}

// loadOmics reads the three omics tables. Only methylation is capped.
func (r *Runner) loadOmics() (map[omics.Modality]*omics.RawTable, error) {
	in := r.cfg.Inputs
	paths := map[omics.Modality]string{
		omics.Methylation: in.Methylation,
		omics.Expression:  in.Expression,
		omics.Mutation:    in.Mutation,
	}
	tables := make(map[omics.Modality]*omics.RawTable, len(paths))
	for _, m := range omics.Modalities {
		path := paths[m]
		if path == "" {
			return nil, errors.Newf(errors.CodeInputUnreadable, "inputs.%s is not set", m)
		}
		opts := tabular.TableOptions{Name: m.String(), IDColumn: in.SampleIDColumn}
		if m == omics.Methylation {
			opts.MaxFeatures = r.cfg.Alignment.MethylationFeatureCap
		}
		t, err := tabular.LoadOmicsTable(path, opts)
		if err != nil {
			return nil, err
		}
		r.logger.Debug("Omics table loaded",
			logging.String("modality", m.String()),
			logging.String("path", path),
			logging.Int("rows", len(t.SampleIDs)),
			logging.Int("features", t.Width()))
		tables[m] = t
	}
	return tables, nil
}

// loadWeights resolves the weights for cfg: a local file, then an object in
// the model bucket, then seeded initialization. The returned string
// describes the source.
func (r *Runner) loadWeights(ctx context.Context, cfg multiomics.ModelConfig) (*multiomics.Weights, string, error) {
	mc := r.cfg.Model
	switch {
	case mc.WeightsPath != "":
		w, err := readWeightsFile(mc.WeightsPath)
		return w, "file:" + mc.WeightsPath, err

	case mc.WeightsObject != "":
		if r.fetcher == nil {
			return nil, "", errors.New(errors.CodeModelWeights, "model.weights_object is set but object storage is disabled")
		}
		tmp, err := os.CreateTemp("", "oncofuse-weights-*.json")
		if err != nil {
			return nil, "", errors.Wrap(err, errors.CodeModelWeights, "create weights download file")
		}
		tmp.Close()
		defer os.Remove(tmp.Name())
		if err := r.fetcher.FetchWeights(ctx, mc.WeightsObject, tmp.Name()); err != nil {
			return nil, "", err
		}
		w, err := readWeightsFile(tmp.Name())
		return w, "object:" + mc.WeightsObject, err

	default:
		w, err := multiomics.InitWeights(cfg, mc.Seed)
		return w, fmt.Sprintf("seed:%d", mc.Seed), err
	}
}

func readWeightsFile(path string) (*multiomics.Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeModelWeights, "open weights %s", path)
	}
	defer f.Close()
	return multiomics.LoadWeights(f)
}

// ─────────────────────────────────────────────────────────────────────────────
// Recommend helpers
// ─────────────────────────────────────────────────────────────────────────────

func loadDrugs(path, idColumn string) (*compound.FingerprintTable, error) {
	if path == "" {
		return nil, errors.New(errors.CodeInputUnreadable, "inputs.drugs is not set")
	}
	return tabular.LoadFingerprints(path, tabular.TableOptions{Name: "drugs", IDColumn: idColumn})
}

func loadEmbeddings(path string) (*patient.EmbeddingSet, error) {
	return tabular.LoadEmbeddings(path)
}

// loadResultsIfPresent returns nil, nil when path does not exist.
func loadResultsIfPresent(path string) ([]patient.RiskScore, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return tabular.LoadResults(path)
}

func writeRecommendations(path string, recs []patient.Recommendation, k int) error {
	return tabular.WriteFile(path, func(w *csv.Writer) error {
		return tabular.WriteRecommendations(w, recs, k)
	})
}
