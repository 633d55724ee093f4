package omics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/internal/testutil"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

func table(name string, ids []string, features []string, rows ...[]float64) *RawTable {
	return &RawTable{Name: name, SampleIDs: ids, Features: features, Rows: rows}
}

type AlignerTestSuite struct {
	suite.Suite
	logger  *testutil.MockLogger
	aligner *Aligner
}

func (s *AlignerTestSuite) SetupTest() {
	s.logger = testutil.NewMockLogger()
	s.aligner = NewAligner(s.logger)
}

func TestAlignerTestSuite(t *testing.T) {
	suite.Run(t, new(AlignerTestSuite))
}

func (s *AlignerTestSuite) TestIntersectionIsSortedAndExact() {
	tables := map[Modality]*RawTable{
		Expression: table("expression", []string{"P3", "P1", "P2"}, []string{"g1"},
			[]float64{3}, []float64{1}, []float64{2}),
		Mutation: table("mutation", []string{"P2", "P3", "P4"}, []string{"m1", "m2"},
			[]float64{2, 20}, []float64{3, 30}, []float64{4, 40}),
		Methylation: table("methylation", []string{"P1", "P2", "P3"}, []string{"cg1"},
			[]float64{0.1}, []float64{0.2}, []float64{0.3}),
	}

	cohort, err := s.aligner.Align(tables)
	s.Require().NoError(err)

	s.Equal([]string{"P2", "P3"}, cohort.SampleIDs)
	s.Equal(2, cohort.Size())
	s.Equal([]float64{2, 3}, mat.Col(nil, 0, cohort.Profile(Expression).Matrix))
	s.Equal([]float64{2, 20}, cohort.Profile(Mutation).Matrix.RawRowView(0))
	s.Equal([]float64{3, 30}, cohort.Profile(Mutation).Matrix.RawRowView(1))
	s.Equal([]float64{0.2, 0.3}, mat.Col(nil, 0, cohort.Profile(Methylation).Matrix))
	s.Equal([NumModalities]int{1, 1, 2}, cohort.Widths())
	s.True(s.logger.HasMessage("info", "cohort aligned"))
}

func (s *AlignerTestSuite) TestDuplicatesCollapseToFirstSeen() {
	tables := map[Modality]*RawTable{
		Expression: table("expression", []string{"tcga-ab-1234-01A", "TCGA-AB-1234-01B"}, []string{"g1"},
			[]float64{1}, []float64{99}),
		Mutation:    table("mutation", []string{"TCGA-AB-1234-01"}, []string{"m1"}, []float64{5}),
		Methylation: table("methylation", []string{" tcga-ab-1234-01 "}, []string{"cg1"}, []float64{7}),
	}

	cohort, err := s.aligner.Align(tables)
	s.Require().NoError(err)

	s.Equal([]string{"TCGA-AB-1234-01"}, cohort.SampleIDs)
	expr := cohort.Profile(Expression)
	r, _ := expr.Matrix.Dims()
	s.Equal(1, r)
	s.Equal(1.0, expr.Matrix.At(0, 0))
	s.Equal(1, expr.Duplicates)
	s.Equal(2, expr.SourceRows)
	s.True(s.logger.HasMessage("warn", "dropped duplicate sample rows"))
}

func (s *AlignerTestSuite) TestMissingValuesImputedToZero() {
	nan := math.NaN()
	tables := map[Modality]*RawTable{
		Expression:  table("expression", []string{"A", "B"}, []string{"g1", "g2"}, []float64{nan, 1}, []float64{2, nan}),
		Mutation:    table("mutation", []string{"A", "B"}, []string{"m1"}, []float64{1}, []float64{0}),
		Methylation: table("methylation", []string{"A", "B"}, []string{"cg1"}, []float64{nan}, []float64{0.5}),
	}

	cohort, err := s.aligner.Align(tables)
	s.Require().NoError(err)

	expr := cohort.Profile(Expression)
	s.Equal([]float64{0, 1}, expr.Matrix.RawRowView(0))
	s.Equal([]float64{2, 0}, expr.Matrix.RawRowView(1))
	s.Equal(2, expr.Imputed)
	s.Equal(1, cohort.Profile(Methylation).Imputed)
	s.Equal(0, cohort.Profile(Mutation).Imputed)
}

func (s *AlignerTestSuite) TestNoCommonSamples() {
	tables := map[Modality]*RawTable{
		Expression:  table("expression", []string{"A"}, []string{"g1"}, []float64{1}),
		Mutation:    table("mutation", []string{"B"}, []string{"m1"}, []float64{1}),
		Methylation: table("methylation", []string{"A"}, []string{"cg1"}, []float64{1}),
	}

	cohort, err := s.aligner.Align(tables)
	s.Nil(cohort)
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.CodeNoCommonSamples))
	s.Contains(err.Error(), "no common samples")
}

func (s *AlignerTestSuite) TestMissingModality() {
	tables := map[Modality]*RawTable{
		Expression: table("expression", []string{"A"}, []string{"g1"}, []float64{1}),
		Mutation:   table("mutation", []string{"A"}, []string{"m1"}, []float64{1}),
	}
	_, err := s.aligner.Align(tables)
	s.Require().Error(err)
	s.Contains(err.Error(), "methylation table is required")
}

func (s *AlignerTestSuite) TestEmptySampleID() {
	tables := map[Modality]*RawTable{
		Expression:  table("expression", []string{"A", "  "}, []string{"g1"}, []float64{1}, []float64{2}),
		Mutation:    table("mutation", []string{"A"}, []string{"m1"}, []float64{1}),
		Methylation: table("methylation", []string{"A"}, []string{"cg1"}, []float64{1}),
	}
	_, err := s.aligner.Align(tables)
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.CodeEmptySampleID))
	s.Contains(err.Error(), "row=2")
}

func TestAlign_Deterministic(t *testing.T) {
	build := func() map[Modality]*RawTable {
		return map[Modality]*RawTable{
			Expression:  table("expression", []string{"C", "A", "B"}, []string{"g"}, []float64{3}, []float64{1}, []float64{2}),
			Mutation:    table("mutation", []string{"B", "C", "A"}, []string{"m"}, []float64{2}, []float64{3}, []float64{1}),
			Methylation: table("methylation", []string{"A", "C", "B"}, []string{"cg"}, []float64{1}, []float64{3}, []float64{2}),
		}
	}
	a := NewAligner(nil)
	first, err := a.Align(build())
	require.NoError(t, err)
	second, err := a.Align(build())
	require.NoError(t, err)

	assert.Equal(t, first.SampleIDs, second.SampleIDs)
	for _, m := range Modalities {
		assert.True(t, mat.Equal(first.Profile(m).Matrix, second.Profile(m).Matrix), m.String())
	}
}
