// Package survival prepares risk scores for downstream survival analysis:
// the Cox regression input table and the median risk split.
package survival

import (
	"math"
	"sort"

	"github.com/RuoyuGao1/cancer-system/internal/domain/omics"
	"github.com/RuoyuGao1/cancer-system/internal/domain/patient"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// TiePolicy decides which group a risk equal to the median falls into.
type TiePolicy string

const (
	// TieHigh puts risk >= median in the High group.
	TieHigh TiePolicy = "ge"
	// TieLow puts only risk > median in the High group.
	TieLow TiePolicy = "gt"
)

// ParseTiePolicy validates s.
func ParseTiePolicy(s string) (TiePolicy, error) {
	switch p := TiePolicy(s); p {
	case TieHigh, TieLow:
		return p, nil
	case "":
		return TieHigh, nil
	default:
		return "", errors.Newf(errors.CodeInvalidParam, "unknown tie policy %q, want ge or gt", s)
	}
}

// Service builds survival inputs from a run's risk scores.
type Service struct {
	logger logging.Logger
}

// NewService creates a survival service.
func NewService(logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{logger: logger}
}

// BuildCoxInput joins risk scores with clinical follow-up on the normalized
// sample identifier. Rows missing the risk, the duration or the event are
// dropped. The output follows the order of scores; the first clinical row
// of an identifier wins.
func (s *Service) BuildCoxInput(scores []patient.RiskScore, clinical []patient.ClinicalRecord) ([]patient.CoxRecord, error) {
	byID := make(map[string]patient.ClinicalRecord, len(clinical))
	dupClinical := 0
	for _, c := range clinical {
		id := omics.NormalizeSampleID(c.SampleID)
		if _, seen := byID[id]; seen {
			dupClinical++
			continue
		}
		byID[id] = c
	}

	var (
		out     []patient.CoxRecord
		matched int
	)
	for _, sc := range scores {
		id := omics.NormalizeSampleID(sc.SampleID)
		c, ok := byID[id]
		if !ok {
			continue
		}
		matched++
		if math.IsNaN(sc.Risk) || !c.Complete() {
			continue
		}
		out = append(out, patient.CoxRecord{SampleID: id, Risk: sc.Risk, Duration: c.Duration, Event: c.Event})
	}

	s.logger.Info("cox input merged",
		logging.Int("results", len(scores)),
		logging.Int("clinical", len(clinical)),
		logging.Int("matched", matched),
		logging.Int("valid", len(out)),
		logging.Int("duplicate_clinical", dupClinical))

	if len(out) == 0 {
		return nil, errors.New(errors.CodeNoValidSurvivalSamples, "no valid samples after merging")
	}
	return out, nil
}

// Stratify labels each score High or Low against the median of all scores.
func (s *Service) Stratify(scores []patient.RiskScore, policy TiePolicy) ([]patient.StratifiedPatient, float64, error) {
	if len(scores) == 0 {
		return nil, 0, errors.New(errors.CodeEmptyTable, "no risk scores to stratify")
	}
	risks := make([]float64, len(scores))
	for i, sc := range scores {
		if math.IsNaN(sc.Risk) {
			return nil, 0, errors.New(errors.CodeMalformedCell, "risk score is missing").
				WithDetailf("sample_id=%s", sc.SampleID)
		}
		risks[i] = sc.Risk
	}
	median := Median(risks)

	out := make([]patient.StratifiedPatient, len(scores))
	high := 0
	for i, sc := range scores {
		g := patient.RiskLow
		if sc.Risk > median || (policy != TieLow && sc.Risk == median) {
			g = patient.RiskHigh
			high++
		}
		out[i] = patient.StratifiedPatient{SampleID: sc.SampleID, Risk: sc.Risk, Group: g}
	}

	s.logger.Info("risk groups assigned",
		logging.Float64("median", median),
		logging.String("tie_policy", string(policy)),
		logging.Int("high", high),
		logging.Int("low", len(scores)-high))
	return out, median, nil
}

// Median returns the middle value of v, averaging the two middle values
// when len(v) is even. v is not modified.
func Median(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// CoxScores extracts the risk scores of merged records, for stratifying the
// cohort that has follow-up data.
func CoxScores(records []patient.CoxRecord) []patient.RiskScore {
	out := make([]patient.RiskScore, len(records))
	for i, r := range records {
		out[i] = patient.RiskScore{SampleID: r.SampleID, Risk: r.Risk}
	}
	return out
}
