// Package recommendation ranks compounds for each patient by cosine similarity
// between the patient embedding and the compound's reduced fingerprint.
package recommendation

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/internal/domain/compound"
	"github.com/RuoyuGao1/cancer-system/internal/domain/patient"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// Service defines the recommendation operations.
type Service interface {
	Recommend(ctx context.Context, input *RecommendInput) (*RecommendResult, error)
}

// RecommendInput carries one run's patients and compound library.
type RecommendInput struct {
	Patients *patient.EmbeddingSet
	Drugs    *compound.FingerprintTable
	TopK     int
}

// RecommendResult holds the ranked lists plus the intermediate spaces.
type RecommendResult struct {
	Recommendations []patient.Recommendation
	Space           *compound.ReducedSpace
	// Similarity is patients × compounds in drug table row order.
	Similarity *mat.Dense
}

// Reducer projects the compound library into a space of a given width.
type Reducer interface {
	Reduce(table *compound.FingerprintTable, components int) (*compound.ReducedSpace, error)
}

type serviceImpl struct {
	reducer Reducer
	logger  logging.Logger
}

// NewService creates a recommendation service. A nil reducer uses the PCA
// reducer.
func NewService(reducer Reducer, logger logging.Logger) Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if reducer == nil {
		reducer = compound.NewReducer(logger)
	}
	return &serviceImpl{reducer: reducer, logger: logger}
}

func (s *serviceImpl) Recommend(ctx context.Context, input *RecommendInput) (*RecommendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if input == nil || input.Patients == nil || input.Drugs == nil {
		return nil, errors.New(errors.CodeInvalidParam, "patients and drugs are required")
	}
	if err := ValidateTopK(input.TopK, input.Drugs.Len()); err != nil {
		return nil, err
	}
	if dups := input.Drugs.DuplicateNames(); len(dups) > 0 {
		s.logger.Warn("duplicate compound names in drug table", logging.Strings("names", dups))
	}
	start := time.Now()

	space, err := s.reducer.Reduce(input.Drugs, input.Patients.Width())
	if err != nil {
		return nil, err
	}
	sim, err := compound.CosineMatrix(input.Patients.Vectors, space.Coordinates)
	if err != nil {
		return nil, err
	}

	recs := make([]patient.Recommendation, input.Patients.Len())
	for i, id := range input.Patients.SampleIDs {
		scores := sim.RawRowView(i)
		order := Rank(scores, input.TopK)
		rec := patient.Recommendation{
			SampleID:  id,
			Compounds: make([]string, len(order)),
			Scores:    make([]float64, len(order)),
		}
		for r, j := range order {
			rec.Compounds[r] = input.Drugs.Names[j]
			rec.Scores[r] = scores[j]
		}
		recs[i] = rec
	}

	s.logger.Info("recommendations ranked",
		logging.Int("patients", input.Patients.Len()),
		logging.Int("compounds", input.Drugs.Len()),
		logging.Int("top_k", input.TopK),
		logging.Duration("elapsed", time.Since(start)))

	return &RecommendResult{Recommendations: recs, Space: space, Similarity: sim}, nil
}

// ValidateTopK checks that k compounds can be drawn from a library of n.
func ValidateTopK(k, n int) error {
	if k < 1 {
		return errors.Newf(errors.CodeTopKInvalid, "top_k must be at least 1, got %d", k)
	}
	if k > n {
		return errors.New(errors.CodeTopKExceedsDrugs, "top_k exceeds available compounds").
			WithDetailf("top_k=%d compounds=%d", k, n)
	}
	return nil
}

// Rank returns the indices of the k highest scores, highest first. Equal
// scores keep their original index order.
func Rank(scores []float64, k int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	if k < len(idx) {
		idx = idx[:k]
	}
	return idx
}
