package compound

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// SimilarityMetric names a vector similarity measure.
type SimilarityMetric string

const (
	MetricCosine SimilarityMetric = "cosine"
)

// SimilarityCalculator compares two equal-width vectors.
type SimilarityCalculator interface {
	Calculate(a, b []float64) (float64, error)
	Metric() SimilarityMetric
}

// CosineCalculator implements cosine similarity.
type CosineCalculator struct{}

// Calculate returns the cosine similarity of a and b. A zero vector on either
// side yields 0. The result is clamped to [-1, 1].
func (CosineCalculator) Calculate(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.New(errors.CodeWidthMismatch, "vectors must have the same width").
			WithDetailf("left=%d right=%d", len(a), len(b))
	}
	return Cosine(a, b), nil
}

// Metric returns MetricCosine.
func (CosineCalculator) Metric() SimilarityMetric { return MetricCosine }

// Cosine is the unchecked form of CosineCalculator.Calculate; a and b must
// have equal length.
func Cosine(a, b []float64) float64 {
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp(floats.Dot(a, b) / (na * nb))
}

// CosineMatrix returns the rows(p) × rows(q) matrix of cosine similarities
// between the rows of p and the rows of q, computed as one batch.
func CosineMatrix(p, q mat.Matrix) (*mat.Dense, error) {
	pr, pc := p.Dims()
	qr, qc := q.Dims()
	if pc != qc {
		return nil, errors.New(errors.CodeWidthMismatch, "patient and compound spaces differ in width").
			WithDetailf("patient=%d compound=%d", pc, qc)
	}

	pn := rowNorms(p)
	qn := rowNorms(q)

	sim := mat.NewDense(pr, qr, nil)
	sim.Mul(p, q.T())
	for i := 0; i < pr; i++ {
		for j := 0; j < qr; j++ {
			if pn[i] == 0 || qn[j] == 0 {
				sim.Set(i, j, 0)
				continue
			}
			sim.Set(i, j, clamp(sim.At(i, j)/(pn[i]*qn[j])))
		}
	}
	return sim, nil
}

func rowNorms(m mat.Matrix) []float64 {
	r, _ := m.Dims()
	norms := make([]float64, r)
	for i := 0; i < r; i++ {
		norms[i] = floats.Norm(mat.Row(nil, i, m), 2)
	}
	return norms
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
