package multiomics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/suite"
	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/internal/domain/omics"
	"github.com/RuoyuGao1/cancer-system/internal/testutil"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

type ModelTestSuite struct {
	suite.Suite
	logger *testutil.MockLogger
	cfg    ModelConfig
	cohort *omics.Cohort
}

func TestModelTestSuite(t *testing.T) {
	suite.Run(t, new(ModelTestSuite))
}

func (s *ModelTestSuite) SetupTest() {
	s.logger = testutil.NewMockLogger()
	s.cfg = smallConfig()
	s.cohort = &omics.Cohort{
		SampleIDs: []string{"P1", "P2"},
		Profiles: [omics.NumModalities]*omics.Profile{
			omics.Methylation: {Modality: omics.Methylation, Matrix: mat.NewDense(2, 4, []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8})},
			omics.Expression:  {Modality: omics.Expression, Matrix: mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})},
			omics.Mutation:    {Modality: omics.Mutation, Matrix: mat.NewDense(2, 2, []float64{0, 1, 1, 0})},
		},
	}
}

func (s *ModelTestSuite) model(seed int64) *Model {
	w, err := InitWeights(s.cfg, seed)
	s.Require().NoError(err)
	m, err := NewModel(s.cfg, w, s.logger)
	s.Require().NoError(err)
	return m
}

func (s *ModelTestSuite) TestPredictShapes() {
	pred, err := s.model(42).Predict(s.cohort)
	s.Require().NoError(err)

	s.Equal([]string{"P1", "P2"}, pred.SampleIDs)
	s.Len(pred.Risk, 2)
	r, c := pred.Embeddings.Dims()
	s.Equal(2, r)
	s.Equal(3, c)
	s.Equal(3, pred.EmbeddingWidth())
	for _, v := range pred.Risk {
		s.False(math.IsNaN(v))
	}
	s.True(s.logger.HasMessage("info", "inference complete"))
}

func (s *ModelTestSuite) TestPredictDeterministic() {
	a, err := s.model(42).Predict(s.cohort)
	s.Require().NoError(err)
	b, err := s.model(42).Predict(s.cohort)
	s.Require().NoError(err)

	s.Equal(a.Risk, b.Risk)
	s.True(mat.Equal(a.Embeddings, b.Embeddings))
}

func (s *ModelTestSuite) TestPredictRowsAreIndependent() {
	m := s.model(42)
	full, err := m.Predict(s.cohort)
	s.Require().NoError(err)

	single := &omics.Cohort{SampleIDs: []string{"P2"}}
	for _, mod := range omics.Modalities {
		p := s.cohort.Profile(mod)
		_, w := p.Matrix.Dims()
		single.Profiles[mod] = &omics.Profile{Modality: mod, Matrix: mat.NewDense(1, w, p.Matrix.RawRowView(1))}
	}
	one, err := m.Predict(single)
	s.Require().NoError(err)

	s.InDelta(full.Risk[1], one.Risk[0], 1e-12)
	s.InDeltaSlice(full.Embeddings.RawRowView(1), one.Embeddings.RawRowView(0), 1e-12)
}

func (s *ModelTestSuite) TestPredictWidthMismatch() {
	m := s.model(42)
	s.cohort.Profiles[omics.Expression].Matrix = mat.NewDense(2, 5, nil)

	_, err := m.Predict(s.cohort)
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.CodeWidthMismatch))
	s.Contains(err.Error(), "modality=expression expected=3 actual=5")
}

func (s *ModelTestSuite) TestPredictEmptyCohort() {
	_, err := s.model(42).Predict(&omics.Cohort{})
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.CodeNoCommonSamples))
}

func (s *ModelTestSuite) TestNewModelRejectsForeignWeights() {
	other := s.cfg
	other.InputWidths[omics.Methylation] = 9
	w, err := InitWeights(other, 42)
	s.Require().NoError(err)

	_, err = NewModel(s.cfg, w, nil)
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.CodeModelWeights))
	s.Contains(err.Error(), "encoder.methylation")
}

func (s *ModelTestSuite) TestNewModelRequiresWeights() {
	_, err := NewModel(s.cfg, nil, nil)
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.CodeModelWeights))
}
