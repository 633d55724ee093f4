package multiomics

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/internal/domain/omics"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// Prediction is the per-patient model output for one cohort.
type Prediction struct {
	SampleIDs  []string
	Risk       []float64
	Embeddings *mat.Dense // samples × E
}

// EmbeddingWidth returns E.
func (p *Prediction) EmbeddingWidth() int {
	_, c := p.Embeddings.Dims()
	return c
}

// Model is the assembled encoder set plus fusion head.
type Model struct {
	cfg      ModelConfig
	encoders [omics.NumModalities]Encoder
	head     *FusionHead
	logger   logging.Logger
}

// NewModel assembles a model from weights that must match cfg exactly.
func NewModel(cfg ModelConfig, weights *Weights, logger logging.Logger) (*Model, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if weights == nil {
		return nil, errors.New(errors.CodeModelWeights, "weights are required")
	}

	m := &Model{cfg: cfg, logger: logger}
	for _, mod := range omics.Modalities {
		layer, err := weights.Layer(LayerShape{Name: EncoderLayerName(mod), In: cfg.InputWidths[mod], Out: cfg.HiddenWidth})
		if err != nil {
			return nil, err
		}
		enc, err := NewEncoder(mod, layer)
		if err != nil {
			return nil, err
		}
		m.encoders[mod] = enc
	}

	shapes := cfg.Layers()
	hiddenShapes := shapes[omics.NumModalities : len(shapes)-1]
	hidden := make([]*Linear, 0, len(hiddenShapes))
	for _, s := range hiddenShapes {
		l, err := weights.Layer(s)
		if err != nil {
			return nil, err
		}
		hidden = append(hidden, l)
	}
	out, err := weights.Layer(shapes[len(shapes)-1])
	if err != nil {
		return nil, err
	}
	head, err := NewFusionHead(cfg.HiddenWidth, hidden, out)
	if err != nil {
		return nil, err
	}
	m.head = head
	return m, nil
}

// Config returns the model's dimensions.
func (m *Model) Config() ModelConfig { return m.cfg }

// Encoder returns the encoder of mod.
func (m *Model) Encoder(mod omics.Modality) Encoder { return m.encoders[mod] }

// Predict runs the whole cohort through the model as one batch.
func (m *Model) Predict(cohort *omics.Cohort) (*Prediction, error) {
	if cohort == nil || cohort.Size() == 0 {
		return nil, errors.New(errors.CodeNoCommonSamples, "no common samples")
	}
	start := time.Now()

	encoded := make(map[omics.Modality]*mat.Dense, omics.NumModalities)
	for _, mod := range omics.Modalities {
		p := cohort.Profile(mod)
		if p == nil {
			return nil, errors.Newf(errors.CodeWidthMismatch, "cohort is missing the %s profile", mod)
		}
		if p.Width() != m.encoders[mod].InputWidth() {
			return nil, errors.New(errors.CodeWidthMismatch, "profile width does not match encoder").
				WithDetailf("modality=%s expected=%d actual=%d", mod, m.encoders[mod].InputWidth(), p.Width())
		}
		z, err := m.encoders[mod].Encode(p.Matrix)
		if err != nil {
			return nil, err
		}
		encoded[mod] = z
	}

	out, err := m.head.Fuse(encoded)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(cohort.SampleIDs))
	copy(ids, cohort.SampleIDs)

	m.logger.Info("inference complete",
		logging.Int("samples", len(ids)),
		logging.Int("embedding_width", m.head.EmbeddingWidth()),
		logging.Duration("elapsed", time.Since(start)))

	return &Prediction{SampleIDs: ids, Risk: out.Risk, Embeddings: out.Embeddings}, nil
}
