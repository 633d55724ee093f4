package multiomics

import (
	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/internal/domain/omics"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// FusionOutput is the raw head output split into its two parts.
type FusionOutput struct {
	// Raw is samples × (1+E).
	Raw *mat.Dense
	// Risk holds column 0 of Raw.
	Risk []float64
	// Embeddings holds columns 1..E of Raw.
	Embeddings *mat.Dense
}

// FusionHead concatenates per-modality latents in omics.Modalities order and
// projects them through rectified hidden layers and a final affine layer.
type FusionHead struct {
	hidden      []*Linear
	output      *Linear
	latentWidth int
}

// NewFusionHead chains hidden and output layers, checking that adjacent
// widths agree and that the first layer accepts latentWidth per modality.
func NewFusionHead(latentWidth int, hidden []*Linear, output *Linear) (*FusionHead, error) {
	if output == nil {
		return nil, errors.New(errors.CodeModelWeights, "fusion head requires an output layer")
	}
	in := latentWidth * omics.NumModalities
	for i, l := range hidden {
		if l == nil {
			return nil, errors.Newf(errors.CodeModelWeights, "missing fusion layer %d", i)
		}
		if l.In() != in {
			return nil, errors.New(errors.CodeWidthMismatch, "fusion layer input width mismatch").
				WithDetailf("layer=%s expected=%d actual=%d", FusionLayerName(i), in, l.In())
		}
		in = l.Out()
	}
	if output.In() != in {
		return nil, errors.New(errors.CodeWidthMismatch, "output layer input width mismatch").
			WithDetailf("expected=%d actual=%d", in, output.In())
	}
	if output.Out() < 2 {
		return nil, errors.New(errors.CodeWidthMismatch, "output layer must emit a risk and at least one embedding value").
			WithDetailf("out=%d", output.Out())
	}
	return &FusionHead{hidden: hidden, output: output, latentWidth: latentWidth}, nil
}

// EmbeddingWidth returns E.
func (h *FusionHead) EmbeddingWidth() int { return h.output.Out() - 1 }

// Fuse runs the head over a batch. Every modality must be present with the
// same sample count and exactly the configured latent width.
func (h *FusionHead) Fuse(encoded map[omics.Modality]*mat.Dense) (*FusionOutput, error) {
	n := -1
	for _, m := range omics.Modalities {
		z, ok := encoded[m]
		if !ok || z == nil {
			return nil, errors.Newf(errors.CodeWidthMismatch, "fusion input is missing the %s latent", m)
		}
		r, c := z.Dims()
		if c != h.latentWidth {
			return nil, errors.New(errors.CodeWidthMismatch, "modality latent width mismatch").
				WithDetailf("modality=%s expected=%d actual=%d", m, h.latentWidth, c)
		}
		if n >= 0 && r != n {
			return nil, errors.New(errors.CodeWidthMismatch, "modality sample count mismatch").
				WithDetailf("modality=%s expected=%d actual=%d", m, n, r)
		}
		n = r
	}

	x := concat(encoded, n, h.latentWidth)
	for _, l := range h.hidden {
		y, err := l.Forward(x)
		if err != nil {
			return nil, err
		}
		relu(y)
		x = y
	}
	raw, err := h.output.Forward(x)
	if err != nil {
		return nil, err
	}
	return split(raw), nil
}

// concat places the latents side by side in fusion order.
func concat(encoded map[omics.Modality]*mat.Dense, n, width int) *mat.Dense {
	x := mat.NewDense(n, width*omics.NumModalities, nil)
	for k, m := range omics.Modalities {
		x.Slice(0, n, k*width, (k+1)*width).(*mat.Dense).Copy(encoded[m])
	}
	return x
}

func split(raw *mat.Dense) *FusionOutput {
	n, w := raw.Dims()
	risk := mat.Col(nil, 0, raw)
	emb := mat.DenseCopyOf(raw.Slice(0, n, 1, w))
	return &FusionOutput{Raw: raw, Risk: risk, Embeddings: emb}
}
