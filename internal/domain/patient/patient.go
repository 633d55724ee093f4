// Package patient holds the per-patient records a run produces and the
// clinical follow-up records it can be joined with.
package patient

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// RiskScore is the predicted risk of one aligned patient.
type RiskScore struct {
	SampleID string  `json:"sample_id"`
	Risk     float64 `json:"predicted_risk"`
}

// Embedding is the E-dimensional latent of one patient.
type Embedding struct {
	SampleID string    `json:"sample_id"`
	Vector   []float64 `json:"vector"`
}

// Recommendation is the ranked compound list of one patient. Compounds[0]
// is rank 1. Scores holds the cosine similarity of each entry.
type Recommendation struct {
	SampleID  string    `json:"sample_id"`
	Compounds []string  `json:"compounds"`
	Scores    []float64 `json:"scores"`
}

// ClinicalRecord is one follow-up row. Missing values are NaN.
type ClinicalRecord struct {
	SampleID string
	Duration float64
	Event    float64
}

// Complete reports whether neither survival field is missing.
func (c ClinicalRecord) Complete() bool {
	return !math.IsNaN(c.Duration) && !math.IsNaN(c.Event)
}

// EmbeddingSet is the patient × E matrix with its row identifiers.
type EmbeddingSet struct {
	SampleIDs []string
	Vectors   *mat.Dense
}

// NewEmbeddingSet checks that ids and matrix rows agree.
func NewEmbeddingSet(ids []string, vectors *mat.Dense) (*EmbeddingSet, error) {
	if vectors == nil || len(ids) == 0 {
		return nil, errors.New(errors.CodeEmptyTable, "embedding set is empty")
	}
	r, _ := vectors.Dims()
	if r != len(ids) {
		return nil, errors.New(errors.CodeWidthMismatch, "embedding rows do not match identifiers").
			WithDetailf("ids=%d rows=%d", len(ids), r)
	}
	return &EmbeddingSet{SampleIDs: ids, Vectors: vectors}, nil
}

// Len returns the patient count.
func (s *EmbeddingSet) Len() int { return len(s.SampleIDs) }

// Width returns E.
func (s *EmbeddingSet) Width() int {
	_, c := s.Vectors.Dims()
	return c
}

// Embedding returns row i as an Embedding sharing no memory with the set.
func (s *EmbeddingSet) Embedding(i int) Embedding {
	return Embedding{SampleID: s.SampleIDs[i], Vector: mat.Row(nil, i, s.Vectors)}
}

// CoxRecord is a risk score joined with complete follow-up data.
type CoxRecord struct {
	SampleID string
	Risk     float64
	Duration float64
	Event    float64
}

// RiskGroup is the median-split label of a patient.
type RiskGroup string

const (
	RiskHigh RiskGroup = "High"
	RiskLow  RiskGroup = "Low"
)

// StratifiedPatient is a risk score with its group label.
type StratifiedPatient struct {
	SampleID string
	Risk     float64
	Group    RiskGroup
}
