package tabular

import (
	"io"
	"strings"

	"github.com/RuoyuGao1/cancer-system/internal/domain/compound"
	"github.com/RuoyuGao1/cancer-system/internal/domain/omics"
)

// ReadOmicsTable parses an omics table. Missing-value tokens become NaN so
// the aligner can impute them.
func ReadOmicsTable(r io.Reader, opts TableOptions) (*omics.RawTable, error) {
	opts.AllowMissing = true
	t, err := readNumeric(r, opts)
	if err != nil {
		return nil, err
	}
	raw := &omics.RawTable{Name: opts.Name, SampleIDs: t.ids, Features: t.features, Rows: t.rows}
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	return raw, nil
}

// LoadOmicsTable opens path and parses it with ReadOmicsTable.
func LoadOmicsTable(path string, opts TableOptions) (*omics.RawTable, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if opts.Delimiter == 0 {
		opts.Delimiter = Delimiter(path)
	}
	return ReadOmicsTable(f, opts)
}

// ReadFingerprints parses the drug fingerprint table. Fingerprints have no
// missing-value policy: every cell must be a finite number.
func ReadFingerprints(r io.Reader, opts TableOptions) (*compound.FingerprintTable, error) {
	if opts.Name == "" {
		opts.Name = "drugs"
	}
	opts.AllowMissing = false
	t, err := readNumeric(r, opts)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(t.ids))
	for i, id := range t.ids {
		names[i] = strings.TrimSpace(id)
	}
	return compound.NewFingerprintTable(names, t.rows)
}

// LoadFingerprints opens path and parses it with ReadFingerprints.
func LoadFingerprints(path string, opts TableOptions) (*compound.FingerprintTable, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if opts.Delimiter == 0 {
		opts.Delimiter = Delimiter(path)
	}
	return ReadFingerprints(f, opts)
}
