// Package compound models chemical compounds as fixed-width fingerprint
// vectors and provides the projection of those vectors into the patient
// embedding space.
package compound

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// FingerprintTable is the drug × fingerprint-bit matrix keyed by compound
// name. Row order is the table's original row order and is the tie-break
// order used by ranking.
type FingerprintTable struct {
	Names []string
	Bits  *mat.Dense
}

// NewFingerprintTable validates rows and builds a table. Every row must have
// the same width and contain only finite values; fingerprints have no
// missing-value policy.
func NewFingerprintTable(names []string, rows [][]float64) (*FingerprintTable, error) {
	if len(rows) == 0 {
		return nil, errors.New(errors.CodeEmptyTable, "drug fingerprint table has no rows")
	}
	if len(names) != len(rows) {
		return nil, errors.New(errors.CodeInternal, "compound name count does not match row count").
			WithDetailf("names=%d rows=%d", len(names), len(rows))
	}
	width := len(rows[0])
	if width == 0 {
		return nil, errors.New(errors.CodeMissingColumn, "drug fingerprint table has no fingerprint columns")
	}

	data := make([]float64, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return nil, errors.New(errors.CodeMalformedCell, "fingerprint row width does not match header").
				WithDetailf("compound=%s row=%d width=%d header=%d", names[i], i+1, len(row), width)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.New(errors.CodeMalformedCell, "fingerprint cell is not a finite number").
					WithDetailf("compound=%s row=%d column=%d", names[i], i+1, j+1)
			}
		}
		data = append(data, row...)
	}

	out := make([]string, len(names))
	copy(out, names)
	return &FingerprintTable{Names: out, Bits: mat.NewDense(len(rows), width, data)}, nil
}

// Len returns the number of compounds.
func (t *FingerprintTable) Len() int { return len(t.Names) }

// Width returns the fingerprint dimensionality.
func (t *FingerprintTable) Width() int {
	_, c := t.Bits.Dims()
	return c
}

// DuplicateNames returns compound names that occur more than once, in first
// occurrence order.
func (t *FingerprintTable) DuplicateNames() []string {
	seen := make(map[string]int, len(t.Names))
	var dups []string
	for _, n := range t.Names {
		seen[n]++
		if seen[n] == 2 {
			dups = append(dups, n)
		}
	}
	return dups
}
