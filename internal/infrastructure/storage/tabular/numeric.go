package tabular

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// TableOptions controls how a keyed numeric table is parsed.
type TableOptions struct {
	// Name identifies the table in errors and logs.
	Name string
	// IDColumn names the row key column. Empty means the first column.
	IDColumn string
	// MaxFeatures keeps only the first n feature columns. Zero keeps all.
	MaxFeatures int
	// AllowMissing turns missing-value tokens into NaN instead of failing.
	AllowMissing bool
	// Delimiter is the field separator. Zero means comma.
	Delimiter rune
}

type numericTable struct {
	ids      []string
	features []string
	rows     [][]float64
}

const utf8BOM = "\ufeff"

// missingTokens are the cell values read as missing, compared
// case-insensitively after trimming.
var missingTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"nan":  {},
	"n/a":  {},
	"null": {},
	"none": {},
}

// IsMissingToken reports whether s denotes a missing cell.
func IsMissingToken(s string) bool {
	_, ok := missingTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

func readHeader(cr *csv.Reader, name string) ([]string, error) {
	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New(errors.CodeEmptyTable, "table is empty").WithDetailf("table=%s", name)
	}
	if err != nil {
		return nil, parseError(err, name)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	header[0] = strings.TrimPrefix(header[0], utf8BOM)
	return header, nil
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func requireColumn(header []string, table, name string) (int, error) {
	idx := columnIndex(header, name)
	if idx < 0 {
		return -1, errors.New(errors.CodeMissingColumn, "required column not found").
			WithDetailf("table=%s column=%s", table, name)
	}
	return idx, nil
}

func parseError(err error, table string) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return errors.New(errors.CodeMalformedCell, "malformed row").
			WithDetailf("table=%s line=%d column=%d", table, pe.Line, pe.Column).WithCause(err)
	}
	return errors.New(errors.CodeInputUnreadable, "read table").
		WithDetailf("table=%s", table).WithCause(err)
}

// parseCell converts one numeric cell. Missing tokens yield NaN when
// allowMissing is set; infinities are always rejected.
func parseCell(s string, allowMissing bool) (float64, bool) {
	if IsMissingToken(s) {
		return math.NaN(), allowMissing
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func readNumeric(r io.Reader, opts TableOptions) (*numericTable, error) {
	cr := newReader(r, delimOrComma(opts.Delimiter))

	header, err := readHeader(cr, opts.Name)
	if err != nil {
		return nil, err
	}

	idIdx := 0
	if opts.IDColumn != "" {
		if idIdx, err = requireColumn(header, opts.Name, opts.IDColumn); err != nil {
			return nil, err
		}
	}

	cols := make([]int, 0, len(header)-1)
	for i := range header {
		if i == idIdx {
			continue
		}
		if opts.MaxFeatures > 0 && len(cols) == opts.MaxFeatures {
			break
		}
		cols = append(cols, i)
	}
	if len(cols) == 0 {
		return nil, errors.New(errors.CodeMissingColumn, "table has no feature columns").
			WithDetailf("table=%s", opts.Name)
	}

	t := &numericTable{features: make([]string, len(cols))}
	for k, c := range cols {
		t.features[k] = header[c]
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, parseError(err, opts.Name)
		}
		line, _ := cr.FieldPos(0)
		if len(rec) != len(header) {
			return nil, errors.New(errors.CodeMalformedCell, "row width does not match header").
				WithDetailf("table=%s line=%d width=%d header=%d", opts.Name, line, len(rec), len(header))
		}

		row := make([]float64, len(cols))
		for k, c := range cols {
			v, ok := parseCell(rec[c], opts.AllowMissing)
			if !ok {
				return nil, errors.New(errors.CodeMalformedCell, "malformed numeric cell").
					WithDetailf("table=%s line=%d column=%s value=%q", opts.Name, line, header[c], rec[c])
			}
			row[k] = v
		}
		t.ids = append(t.ids, rec[idIdx])
		t.rows = append(t.rows, row)
	}

	if len(t.rows) == 0 {
		return nil, errors.New(errors.CodeEmptyTable, "table has no rows").WithDetailf("table=%s", opts.Name)
	}
	return t, nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
