package omics

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// Profile is the aligned matrix of one modality. Row i belongs to
// Cohort.SampleIDs[i].
type Profile struct {
	Modality Modality
	Features []string
	Matrix   *mat.Dense

	// Imputed counts cells that were missing and set to zero.
	Imputed int
	// Duplicates counts raw rows dropped because their identifier
	// normalized to one already seen.
	Duplicates int
	// SourceRows is the raw row count before deduplication.
	SourceRows int
}

// Width returns the feature count of the profile.
func (p *Profile) Width() int {
	_, c := p.Matrix.Dims()
	return c
}

// Cohort is the sorted set of samples present in every modality together with
// the per-modality matrices restricted to that set.
type Cohort struct {
	SampleIDs []string
	Profiles  [NumModalities]*Profile
}

// Size returns the number of aligned samples.
func (c *Cohort) Size() int { return len(c.SampleIDs) }

// Profile returns the aligned profile of m.
func (c *Cohort) Profile(m Modality) *Profile { return c.Profiles[m] }

// Widths returns the feature width of every modality in fusion order.
func (c *Cohort) Widths() [NumModalities]int {
	var w [NumModalities]int
	for _, m := range Modalities {
		w[m] = c.Profiles[m].Width()
	}
	return w
}

// ─────────────────────────────────────────────────────────────────────────────
// Aligner
// ─────────────────────────────────────────────────────────────────────────────

// Aligner reconciles the three omics sources into one Cohort.
type Aligner struct {
	logger logging.Logger
}

// NewAligner creates an Aligner.
func NewAligner(logger logging.Logger) *Aligner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Aligner{logger: logger}
}

// deduped is a source table indexed by canonical identifier.
type deduped struct {
	table      *RawTable
	index      map[string]int // canonical id → raw row
	duplicates int
}

// Align normalizes identifiers, drops duplicate rows (first seen wins),
// intersects the identifier sets of all modalities, sorts the intersection
// and builds one zero-imputed matrix per modality. Every modality must be
// present. An empty intersection fails with CodeNoCommonSamples.
func (a *Aligner) Align(tables map[Modality]*RawTable) (*Cohort, error) {
	var sources [NumModalities]*deduped
	for _, m := range Modalities {
		t, ok := tables[m]
		if !ok || t == nil {
			return nil, errors.Newf(errors.CodeEmptyTable, "%s table is required", m)
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		d, err := dedupe(t)
		if err != nil {
			return nil, err
		}
		if d.duplicates > 0 {
			a.logger.Warn("dropped duplicate sample rows",
				logging.String("modality", m.String()),
				logging.String("table", t.Name),
				logging.Int("duplicates", d.duplicates))
		}
		sources[m] = d
	}

	ids := intersect(sources)
	if len(ids) == 0 {
		return nil, errors.New(errors.CodeNoCommonSamples, "no common samples").
			WithDetailf("methylation=%d expression=%d mutation=%d",
				len(sources[Methylation].index), len(sources[Expression].index), len(sources[Mutation].index))
	}

	cohort := &Cohort{SampleIDs: ids}
	for _, m := range Modalities {
		p := buildProfile(m, sources[m], ids)
		cohort.Profiles[m] = p
		a.logger.Debug("modality aligned",
			logging.String("modality", m.String()),
			logging.Int("source_rows", p.SourceRows),
			logging.Int("features", p.Width()),
			logging.Int("imputed_cells", p.Imputed))
	}

	a.logger.Info("cohort aligned",
		logging.Int("samples", len(ids)),
		logging.Int("methylation_features", cohort.Profiles[Methylation].Width()),
		logging.Int("expression_features", cohort.Profiles[Expression].Width()),
		logging.Int("mutation_features", cohort.Profiles[Mutation].Width()))
	return cohort, nil
}

func dedupe(t *RawTable) (*deduped, error) {
	d := &deduped{table: t, index: make(map[string]int, len(t.SampleIDs))}
	for i, raw := range t.SampleIDs {
		id := NormalizeSampleID(raw)
		if id == "" {
			return nil, errors.New(errors.CodeEmptySampleID, "empty sample identifier").
				WithDetailf("table=%s row=%d", t.Name, i+1)
		}
		if _, seen := d.index[id]; seen {
			d.duplicates++
			continue
		}
		d.index[id] = i
	}
	return d, nil
}

func intersect(sources [NumModalities]*deduped) []string {
	// iterate the smallest index
	smallest := sources[0]
	for _, s := range sources[1:] {
		if len(s.index) < len(smallest.index) {
			smallest = s
		}
	}
	ids := make([]string, 0, len(smallest.index))
	for id := range smallest.index {
		inAll := true
		for _, s := range sources {
			if _, ok := s.index[id]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func buildProfile(m Modality, src *deduped, ids []string) *Profile {
	width := src.table.Width()
	data := make([]float64, len(ids)*width)
	imputed := 0
	for r, id := range ids {
		row := src.table.Rows[src.index[id]]
		dst := data[r*width : (r+1)*width]
		for c, v := range row {
			if IsMissing(v) {
				imputed++
				v = 0
			}
			dst[c] = v
		}
	}
	features := make([]string, width)
	copy(features, src.table.Features)
	return &Profile{
		Modality:   m,
		Features:   features,
		Matrix:     mat.NewDense(len(ids), width, data),
		Imputed:    imputed,
		Duplicates: src.duplicates,
		SourceRows: len(src.table.Rows),
	}
}
