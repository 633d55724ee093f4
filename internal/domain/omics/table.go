package omics

import (
	"math"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// RawTable is one source table as read from disk: rows keyed by a free-form
// sample identifier, one numeric column per feature. Missing cells are NaN.
type RawTable struct {
	// Name identifies the table in errors and logs.
	Name      string
	SampleIDs []string
	Features  []string
	Rows      [][]float64
}

// Validate checks the structural contract of the table.
func (t *RawTable) Validate() error {
	if t == nil {
		return errors.New(errors.CodeEmptyTable, "table is nil")
	}
	if len(t.Features) == 0 {
		return errors.New(errors.CodeMissingColumn, "table has no feature columns").
			WithDetailf("table=%s", t.Name)
	}
	if len(t.Rows) == 0 {
		return errors.New(errors.CodeEmptyTable, "table has no rows").
			WithDetailf("table=%s", t.Name)
	}
	if len(t.SampleIDs) != len(t.Rows) {
		return errors.New(errors.CodeInternal, "sample identifier count does not match row count").
			WithDetailf("table=%s ids=%d rows=%d", t.Name, len(t.SampleIDs), len(t.Rows))
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Features) {
			return errors.New(errors.CodeMalformedCell, "row width does not match header").
				WithDetailf("table=%s row=%d width=%d header=%d", t.Name, i+1, len(row), len(t.Features))
		}
	}
	return nil
}

// Width returns the number of feature columns.
func (t *RawTable) Width() int { return len(t.Features) }

// IsMissing reports whether v denotes a missing cell.
func IsMissing(v float64) bool { return math.IsNaN(v) }
