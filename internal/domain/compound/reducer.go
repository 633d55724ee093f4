package compound

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// ReducedSpace is the compound table projected to the patient embedding
// width. Coordinates are only comparable with other coordinates produced by
// the same fit: every call to Reduce refits the basis from scratch.
type ReducedSpace struct {
	Names       []string
	Coordinates *mat.Dense // compounds × components

	// ExplainedVariance is the variance captured by each kept component.
	ExplainedVariance []float64
	// ExplainedRatio is ExplainedVariance over the total variance.
	ExplainedRatio []float64
}

// Width returns the number of components.
func (r *ReducedSpace) Width() int {
	_, c := r.Coordinates.Dims()
	return c
}

// Reducer fits a principal-component projection on a fingerprint table and
// applies it to the same table. It keeps no basis between calls.
type Reducer struct {
	logger logging.Logger
}

// NewReducer creates a Reducer.
func NewReducer(logger logging.Logger) *Reducer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Reducer{logger: logger}
}

// Reduce projects table onto its first components principal components.
// It fails with CodeReducedSpaceInvalid when components exceeds the number of
// compounds or the fingerprint width.
//
// Component signs are fixed so that the loading with the largest absolute
// value in every component is positive, which makes the output independent
// of the SVD implementation's sign choice.
func (r *Reducer) Reduce(table *FingerprintTable, components int) (*ReducedSpace, error) {
	if table == nil || table.Len() == 0 {
		return nil, errors.New(errors.CodeEmptyTable, "drug fingerprint table has no rows")
	}
	n, d := table.Bits.Dims()
	if components < 1 {
		return nil, errors.New(errors.CodeReducedSpaceInvalid, "reduced width must be positive").
			WithDetailf("components=%d", components)
	}
	if components > n || components > d {
		return nil, errors.New(errors.CodeReducedSpaceInvalid, "reduced width exceeds compound count or fingerprint width").
			WithDetailf("components=%d compounds=%d fingerprint_width=%d", components, n, d)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(table.Bits, nil); !ok {
		return nil, errors.New(errors.CodeReducedSpaceInvalid, "principal component decomposition failed").
			WithDetailf("compounds=%d fingerprint_width=%d", n, d)
	}

	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	// sample variance is undefined for a single compound
	vars := make([]float64, min(n, d))
	if n > 1 {
		vars = pc.VarsTo(nil)
	}

	basis := mat.DenseCopyOf(vecs.Slice(0, d, 0, components))
	fixSigns(basis)

	centered := center(table.Bits)
	coords := mat.NewDense(n, components, nil)
	coords.Mul(centered, basis)

	kept := make([]float64, components)
	copy(kept, vars[:components])
	total := floats.Sum(vars)
	ratio := make([]float64, components)
	if total > 0 {
		for i, v := range kept {
			ratio[i] = v / total
		}
	}

	names := make([]string, len(table.Names))
	copy(names, table.Names)

	r.logger.Info("compound space reduced",
		logging.Int("compounds", n),
		logging.Int("fingerprint_width", d),
		logging.Int("components", components),
		logging.Float64("explained_ratio", floats.Sum(ratio)))

	return &ReducedSpace{
		Names:             names,
		Coordinates:       coords,
		ExplainedVariance: kept,
		ExplainedRatio:    ratio,
	}, nil
}

// center subtracts the column means of x.
func center(x *mat.Dense) *mat.Dense {
	n, d := x.Dims()
	out := mat.DenseCopyOf(x)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, x)
		mean := stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			out.Set(i, j, out.At(i, j)-mean)
		}
	}
	return out
}

// fixSigns flips each column of basis so its largest-magnitude entry is
// positive. Ties on magnitude resolve to the lowest row.
func fixSigns(basis *mat.Dense) {
	d, k := basis.Dims()
	for j := 0; j < k; j++ {
		best, bestAbs := 0, -1.0
		for i := 0; i < d; i++ {
			if a := math.Abs(basis.At(i, j)); a > bestAbs {
				best, bestAbs = i, a
			}
		}
		if basis.At(best, j) < 0 {
			for i := 0; i < d; i++ {
				basis.Set(i, j, -basis.At(i, j))
			}
		}
	}
}
