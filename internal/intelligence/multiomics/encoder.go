package multiomics

import (
	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/internal/domain/omics"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// ---------------------------------------------------------------------------
// Encoder contract
// ---------------------------------------------------------------------------

// Encoder maps a variable-width raw profile to a fixed-width latent.
type Encoder interface {
	// Encode maps every row of x (samples × InputWidth) to a row of
	// OutputWidth latents.
	Encode(x mat.Matrix) (*mat.Dense, error)
	// EncodeVector encodes a single profile.
	EncodeVector(v []float64) ([]float64, error)
	Modality() omics.Modality
	InputWidth() int
	OutputWidth() int
}

// NewEncoder returns the encoder variant used for m: dense for expression and
// methylation, graph for mutation.
func NewEncoder(m omics.Modality, layer *Linear) (Encoder, error) {
	if layer == nil {
		return nil, errors.Newf(errors.CodeModelWeights, "missing layer for %s encoder", m)
	}
	switch m {
	case omics.Expression, omics.Methylation:
		return &DenseEncoder{modality: m, layer: layer}, nil
	case omics.Mutation:
		return &GraphEncoder{layer: layer}, nil
	default:
		return nil, errors.Newf(errors.CodeInvalidParam, "no encoder for %s", m)
	}
}

// ---------------------------------------------------------------------------
// Dense encoder
// ---------------------------------------------------------------------------

// DenseEncoder is a single affine projection followed by ReLU.
type DenseEncoder struct {
	modality omics.Modality
	layer    *Linear
}

func (e *DenseEncoder) Encode(x mat.Matrix) (*mat.Dense, error) {
	return encode(e.modality, e.layer, x)
}

func (e *DenseEncoder) EncodeVector(v []float64) ([]float64, error) {
	return encodeVector(e, v)
}

func (e *DenseEncoder) Modality() omics.Modality { return e.modality }
func (e *DenseEncoder) InputWidth() int          { return e.layer.In() }
func (e *DenseEncoder) OutputWidth() int         { return e.layer.Out() }

// ---------------------------------------------------------------------------
// Graph encoder
// ---------------------------------------------------------------------------

// GraphEncoder fills the mutation slot reserved for a graph-aware encoder.
// It consumes no adjacency information and computes the same affine + ReLU
// as DenseEncoder. A real graph convolution can replace it without changing
// the fusion head.
type GraphEncoder struct {
	layer *Linear
}

func (e *GraphEncoder) Encode(x mat.Matrix) (*mat.Dense, error) {
	return encode(omics.Mutation, e.layer, x)
}

func (e *GraphEncoder) EncodeVector(v []float64) ([]float64, error) {
	return encodeVector(e, v)
}

func (e *GraphEncoder) Modality() omics.Modality { return omics.Mutation }
func (e *GraphEncoder) InputWidth() int          { return e.layer.In() }
func (e *GraphEncoder) OutputWidth() int         { return e.layer.Out() }

// ---------------------------------------------------------------------------
// Shared
// ---------------------------------------------------------------------------

func encode(m omics.Modality, layer *Linear, x mat.Matrix) (*mat.Dense, error) {
	y, err := layer.Forward(x)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeWidthMismatch, "%s encoder", m)
	}
	relu(y)
	return y, nil
}

func encodeVector(e Encoder, v []float64) ([]float64, error) {
	if len(v) == 0 {
		return nil, errors.Newf(errors.CodeWidthMismatch, "%s encoder received an empty vector", e.Modality())
	}
	x := mat.NewDense(1, len(v), append([]float64(nil), v...))
	y, err := e.Encode(x)
	if err != nil {
		return nil, err
	}
	return y.RawRowView(0), nil
}
