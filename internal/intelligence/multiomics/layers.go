package multiomics

import (
	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// Linear is an affine layer y = x·Wᵀ + b. Weight is Out×In, matching the
// layout of the exported weights document.
type Linear struct {
	Weight *mat.Dense
	Bias   []float64
}

// NewLinear wraps weight and bias after checking their shapes agree.
func NewLinear(weight *mat.Dense, bias []float64) (*Linear, error) {
	out, _ := weight.Dims()
	if len(bias) != out {
		return nil, errors.New(errors.CodeModelWeights, "bias width does not match weight rows").
			WithDetailf("weight_rows=%d bias=%d", out, len(bias))
	}
	return &Linear{Weight: weight, Bias: bias}, nil
}

// In returns the input width.
func (l *Linear) In() int {
	_, c := l.Weight.Dims()
	return c
}

// Out returns the output width.
func (l *Linear) Out() int {
	r, _ := l.Weight.Dims()
	return r
}

// Forward applies the layer to every row of x.
func (l *Linear) Forward(x mat.Matrix) (*mat.Dense, error) {
	n, in := x.Dims()
	if in != l.In() {
		return nil, errors.New(errors.CodeWidthMismatch, "layer input width mismatch").
			WithDetailf("expected=%d actual=%d", l.In(), in)
	}
	y := mat.NewDense(n, l.Out(), nil)
	y.Mul(x, l.Weight.T())
	for i := 0; i < n; i++ {
		row := y.RawRowView(i)
		for j, b := range l.Bias {
			row[j] += b
		}
	}
	return y, nil
}

// relu clips negative entries of m to zero in place.
func relu(m *mat.Dense) {
	m.Apply(func(_, _ int, v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}, m)
}
