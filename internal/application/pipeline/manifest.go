package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/RuoyuGao1/cancer-system/internal/config"
	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// ManifestVersion identifies the manifest layout.
const ManifestVersion = "oncofuse-manifest/v1"

// ManifestSettings is the snapshot of the values that shape a run's output.
type ManifestSettings struct {
	HiddenWidth           int    `json:"hidden_width"`
	EmbeddingWidth        int    `json:"embedding_width"`
	FusionWidths          []int  `json:"fusion_widths"`
	Seed                  int64  `json:"seed"`
	Weights               string `json:"weights,omitempty"`
	MethylationFeatureCap int    `json:"methylation_feature_cap"`
	TopK                  int    `json:"top_k"`
}

// ManifestInputs records the source tables of a run.
type ManifestInputs struct {
	Expression  string `json:"expression,omitempty"`
	Mutation    string `json:"mutation,omitempty"`
	Methylation string `json:"methylation,omitempty"`
	Drugs       string `json:"drugs,omitempty"`
}

// Manifest describes one run for later inspection.
type Manifest struct {
	Version         string              `json:"version"`
	RunID           string              `json:"run_id"`
	SourceRunID     string              `json:"source_run_id,omitempty"`
	Mode            Mode                `json:"mode"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
	DurationSeconds float64             `json:"duration_seconds"`
	Settings        ManifestSettings    `json:"settings"`
	Inputs          ManifestInputs      `json:"inputs"`
	CohortSize      int                 `json:"cohort_size"`
	EmbeddingWidth  int                 `json:"embedding_width"`
	Modalities      []run.ModalityStats `json:"modalities,omitempty"`
	DrugCount       int                 `json:"drug_count,omitempty"`
	Outputs         []string            `json:"outputs"`
}

// NewManifest builds the manifest of res. weights names the weights source;
// a recommend-only run carries over the source of the predict run it ranks.
func NewManifest(mode Mode, res *run.Result, cfg *config.Config, weights string) *Manifest {
	m := &Manifest{
		Version:         ManifestVersion,
		RunID:           res.RunID,
		SourceRunID:     res.SourceRunID,
		Mode:            mode,
		StartedAt:       res.StartedAt,
		FinishedAt:      res.FinishedAt,
		DurationSeconds: res.Duration().Seconds(),
		Settings: ManifestSettings{
			HiddenWidth:           cfg.Model.HiddenWidth,
			EmbeddingWidth:        cfg.Model.EmbeddingWidth,
			FusionWidths:          append([]int(nil), cfg.Model.FusionWidths...),
			Seed:                  cfg.Model.Seed,
			Weights:               weights,
			MethylationFeatureCap: cfg.Alignment.MethylationFeatureCap,
			TopK:                  cfg.Recommendation.TopK,
		},
		CohortSize:     res.CohortSize,
		EmbeddingWidth: res.EmbeddingWidth,
		Modalities:     res.Modalities,
		DrugCount:      res.DrugCount,
		Outputs:        append([]string(nil), res.Artifacts...),
	}
	if mode != ModeRecommend {
		m.Inputs.Expression = cfg.Inputs.Expression
		m.Inputs.Mutation = cfg.Inputs.Mutation
		m.Inputs.Methylation = cfg.Inputs.Methylation
	}
	if mode != ModePredict {
		m.Inputs.Drugs = cfg.Inputs.Drugs
	}
	return m
}

// WriteManifest writes m as indented JSON.
func WriteManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "encode manifest")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, errors.CodeOutputWrite, "create output directory for %s", path)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, errors.CodeOutputWrite, "write %s", path)
	}
	return nil
}

// ReadManifestIfPresent returns nil, nil when path does not exist.
func ReadManifestIfPresent(path string) (*Manifest, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return ReadManifest(path)
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInputUnreadable, "read %s", path)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, errors.CodeSerialization, "decode %s", path)
	}
	return &m, nil
}
