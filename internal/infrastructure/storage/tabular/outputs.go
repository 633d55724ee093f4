package tabular

import (
	"encoding/csv"
	"io"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/internal/domain/patient"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// Column names of the output tables.
const (
	ColSampleID      = "sample_id"
	ColPredictedRisk = "predicted_risk"
	ColDuration      = "duration"
	ColEvent         = "event"
	ColRiskGroup     = "risk_group"
)

// RankColumn returns the header of the i-th (1-based) recommendation.
func RankColumn(i int) string { return "rank_" + strconv.Itoa(i) }

func write(w *csv.Writer, rec []string, table string) error {
	return errors.Wrapf(w.Write(rec), errors.CodeOutputWrite, "write %s", table)
}

// ─────────────────────────────────────────────────────────────────────────────
// Risk results
// ─────────────────────────────────────────────────────────────────────────────

// WriteResults writes sample_id,predicted_risk.
func WriteResults(w *csv.Writer, scores []patient.RiskScore) error {
	if err := write(w, []string{ColSampleID, ColPredictedRisk}, "results"); err != nil {
		return err
	}
	for _, s := range scores {
		if err := write(w, []string{s.SampleID, formatFloat(s.Risk)}, "results"); err != nil {
			return err
		}
	}
	return nil
}

// ReadResults parses a results table. A missing risk is kept as NaN.
func ReadResults(r io.Reader, delim rune) ([]patient.RiskScore, error) {
	cr := newReader(r, delimOrComma(delim))
	header, err := readHeader(cr, "results")
	if err != nil {
		return nil, err
	}
	idIdx, err := requireColumn(header, "results", ColSampleID)
	if err != nil {
		return nil, err
	}
	riskIdx, err := requireColumn(header, "results", ColPredictedRisk)
	if err != nil {
		return nil, err
	}

	var out []patient.RiskScore
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, parseError(err, "results")
		}
		line, _ := cr.FieldPos(0)
		if len(rec) != len(header) {
			return nil, errors.New(errors.CodeMalformedCell, "row width does not match header").
				WithDetailf("table=results line=%d width=%d header=%d", line, len(rec), len(header))
		}
		risk, ok := parseCell(rec[riskIdx], true)
		if !ok {
			return nil, errors.New(errors.CodeMalformedCell, "malformed numeric cell").
				WithDetailf("table=results line=%d column=%s value=%q", line, ColPredictedRisk, rec[riskIdx])
		}
		out = append(out, patient.RiskScore{SampleID: rec[idIdx], Risk: risk})
	}
	if len(out) == 0 {
		return nil, errors.New(errors.CodeEmptyTable, "table has no rows").WithDetail("table=results")
	}
	return out, nil
}

// LoadResults opens path and parses it with ReadResults.
func LoadResults(path string) ([]patient.RiskScore, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadResults(f, Delimiter(path))
}

// ─────────────────────────────────────────────────────────────────────────────
// Embeddings
// ─────────────────────────────────────────────────────────────────────────────

// WriteEmbeddings writes sample_id,0,1,…,E-1.
func WriteEmbeddings(w *csv.Writer, set *patient.EmbeddingSet) error {
	e := set.Width()
	header := make([]string, 0, e+1)
	header = append(header, ColSampleID)
	for j := 0; j < e; j++ {
		header = append(header, strconv.Itoa(j))
	}
	if err := write(w, header, "patient_embeddings"); err != nil {
		return err
	}
	rec := make([]string, e+1)
	for i, id := range set.SampleIDs {
		rec[0] = id
		for j := 0; j < e; j++ {
			rec[j+1] = formatFloat(set.Vectors.At(i, j))
		}
		if err := write(w, rec, "patient_embeddings"); err != nil {
			return err
		}
	}
	return nil
}

// ReadEmbeddings parses a patient embeddings table keyed by its first column.
func ReadEmbeddings(r io.Reader, delim rune) (*patient.EmbeddingSet, error) {
	t, err := readNumeric(r, TableOptions{Name: "patient_embeddings", Delimiter: delim})
	if err != nil {
		return nil, err
	}
	data := make([]float64, 0, len(t.rows)*len(t.features))
	for _, row := range t.rows {
		data = append(data, row...)
	}
	return patient.NewEmbeddingSet(t.ids, mat.NewDense(len(t.rows), len(t.features), data))
}

// LoadEmbeddings opens path and parses it with ReadEmbeddings.
func LoadEmbeddings(path string) (*patient.EmbeddingSet, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadEmbeddings(f, Delimiter(path))
}

// ─────────────────────────────────────────────────────────────────────────────
// Recommendations
// ─────────────────────────────────────────────────────────────────────────────

// WriteRecommendations writes sample_id,rank_1,…,rank_k.
func WriteRecommendations(w *csv.Writer, recs []patient.Recommendation, k int) error {
	header := make([]string, 0, k+1)
	header = append(header, ColSampleID)
	for i := 1; i <= k; i++ {
		header = append(header, RankColumn(i))
	}
	if err := write(w, header, "recommendations"); err != nil {
		return err
	}
	for _, r := range recs {
		if len(r.Compounds) != k {
			return errors.New(errors.CodeInternal, "recommendation list has the wrong length").
				WithDetailf("sample_id=%s expected=%d actual=%d", r.SampleID, k, len(r.Compounds))
		}
		rec := append([]string{r.SampleID}, r.Compounds...)
		if err := write(w, rec, "recommendations"); err != nil {
			return err
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Clinical follow-up and survival outputs
// ─────────────────────────────────────────────────────────────────────────────

// ClinicalColumns names the clinical table columns used for the Cox join.
type ClinicalColumns struct {
	SampleID string
	Time     string
	Event    string
}

// ReadClinical parses the clinical table. Missing times and events are NaN.
func ReadClinical(r io.Reader, delim rune, cols ClinicalColumns) ([]patient.ClinicalRecord, error) {
	if cols.SampleID == "" {
		cols.SampleID = ColSampleID
	}
	cr := newReader(r, delimOrComma(delim))
	header, err := readHeader(cr, "clinical")
	if err != nil {
		return nil, err
	}
	idx := make([]int, 3)
	for k, name := range []string{cols.SampleID, cols.Time, cols.Event} {
		if idx[k], err = requireColumn(header, "clinical", name); err != nil {
			return nil, err
		}
	}

	var out []patient.ClinicalRecord
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, parseError(err, "clinical")
		}
		line, _ := cr.FieldPos(0)
		if len(rec) != len(header) {
			return nil, errors.New(errors.CodeMalformedCell, "row width does not match header").
				WithDetailf("table=clinical line=%d width=%d header=%d", line, len(rec), len(header))
		}
		vals := [2]float64{}
		for k, c := range idx[1:] {
			v, ok := parseCell(rec[c], true)
			if !ok {
				return nil, errors.New(errors.CodeMalformedCell, "malformed numeric cell").
					WithDetailf("table=clinical line=%d column=%s value=%q", line, header[c], rec[c])
			}
			vals[k] = v
		}
		out = append(out, patient.ClinicalRecord{SampleID: rec[idx[0]], Duration: vals[0], Event: vals[1]})
	}
	return out, nil
}

// LoadClinical opens path and parses it with ReadClinical.
func LoadClinical(path string, cols ClinicalColumns) ([]patient.ClinicalRecord, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadClinical(f, Delimiter(path), cols)
}

// WriteCoxInput writes sample_id,predicted_risk,duration,event.
func WriteCoxInput(w *csv.Writer, records []patient.CoxRecord) error {
	if err := write(w, []string{ColSampleID, ColPredictedRisk, ColDuration, ColEvent}, "cox_input"); err != nil {
		return err
	}
	for _, r := range records {
		rec := []string{r.SampleID, formatFloat(r.Risk), formatFloat(r.Duration), formatFloat(r.Event)}
		if err := write(w, rec, "cox_input"); err != nil {
			return err
		}
	}
	return nil
}

// WriteRiskGroups writes sample_id,predicted_risk,risk_group.
func WriteRiskGroups(w *csv.Writer, groups []patient.StratifiedPatient) error {
	if err := write(w, []string{ColSampleID, ColPredictedRisk, ColRiskGroup}, "risk_groups"); err != nil {
		return err
	}
	for _, g := range groups {
		if err := write(w, []string{g.SampleID, formatFloat(g.Risk), string(g.Group)}, "risk_groups"); err != nil {
			return err
		}
	}
	return nil
}

func delimOrComma(d rune) rune {
	if d == 0 {
		return ','
	}
	return d
}
